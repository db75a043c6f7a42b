package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/dispatcher/pkg/device"
	"github.com/raterudder/dispatcher/pkg/scheduler"
	"github.com/raterudder/dispatcher/pkg/storage/storagemock"
	"github.com/raterudder/dispatcher/pkg/types"
)

var testNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	result  scheduler.Result
	err     error
	cycles  int
	resets  int
	initErr error
}

func (f *fakeDispatcher) RunCycle(ctx context.Context) (scheduler.Result, error) {
	f.cycles++
	return f.result, f.err
}

func (f *fakeDispatcher) Initialise(ctx context.Context) error {
	f.resets++
	return f.initErr
}

func fakeVerifier(ctx context.Context, raw string) (string, error) {
	switch raw {
	case "scheduler-token":
		return "scheduler@example.iam.gserviceaccount.com", nil
	case "other-token":
		return "someone@example.com", nil
	}
	return "", errors.New("bad token")
}

func newTestServer(t *testing.T) (*Server, *storagemock.MockDatabase, *fakeDispatcher) {
	t.Helper()
	db := &storagemock.MockDatabase{}
	d := &fakeDispatcher{}
	srv := &Server{
		dispatcher:   d,
		storage:      db,
		device:       device.NewMock(types.DeviceStatus{}),
		schedule:     &scheduler.Config{TariffCombination: "agile"},
		updateEmails: []string{"scheduler@example.iam.gserviceaccount.com"},
		verifyToken:  fakeVerifier,
		serverName:   "dispatcher-test",
		now:          func() time.Time { return testNow },
	}
	return srv, db, d
}

func equalTime(want time.Time) interface{} {
	return mock.MatchedBy(func(t time.Time) bool { return t.Equal(want) })
}

func TestRequireUpdater(t *testing.T) {
	srv, _, d := newTestServer(t)
	d.result = scheduler.Result{CycleID: "c1", Converged: true}
	handler := srv.setupHandler()

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"Missing Header", "", http.StatusUnauthorized},
		{"Not Bearer", "Basic abc", http.StatusUnauthorized},
		{"Invalid Token", "Bearer nope", http.StatusUnauthorized},
		{"Wrong Email", "Bearer other-token", http.StatusForbidden},
		{"Allowed", "Bearer scheduler-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.code, rr.Code)
		})
	}
	assert.Equal(t, 1, d.cycles)

	t.Run("No Verifier", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		srv.verifyToken = nil
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		req.Header.Set("Authorization", "Bearer scheduler-token")
		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Zero(t, d.cycles)
	})

	t.Run("Bypass", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		srv.verifyToken = nil
		srv.bypassAuth = true
		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/update", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, d.cycles)
	})
}

func TestHandleUpdate(t *testing.T) {
	post := func(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer scheduler-token")
		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, req)
		return rr
	}

	t.Run("Success", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		d.result = scheduler.Result{
			CycleID:   "c1",
			Converged: true,
			Command:   types.Command{Mode: types.ModeCharge, TargetLevelPercent: 80},
		}
		rr := post(t, srv, "/api/update")
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Status string           `json:"status"`
			Result scheduler.Result `json:"result"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "success", body.Status)
		assert.Equal(t, "c1", body.Result.CycleID)
		assert.Equal(t, types.ModeCharge, body.Result.Command.Mode)
	})

	t.Run("Already Running", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		d.err = scheduler.ErrCycleRunning
		rr := post(t, srv, "/api/update")
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Cycle Error", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		d.err = errors.New("inverter offline")
		rr := post(t, srv, "/api/update")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, rr.Body.String(), "inverter offline")
	})

	t.Run("Initialise", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		rr := post(t, srv, "/api/device/initialise")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, d.resets)

		d.initErr = errors.New("write failed")
		rr = post(t, srv, "/api/device/initialise")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("Wrong Method", func(t *testing.T) {
		srv, _, d := newTestServer(t)
		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/update", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		assert.Zero(t, d.cycles)
	})
}

func TestHandleSlots(t *testing.T) {
	t.Run("Default Range", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		slots := []types.Slot{{TariffCombination: "agile", Start: testNow, GridKW: 1.5}}
		db.On("GetSlots", mock.Anything, "agile", equalTime(testNow.Add(-12*time.Hour)), equalTime(testNow.Add(24*time.Hour))).Return(slots, nil).Once()

		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/slots", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var got []types.Slot
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, 1.5, got[0].GridKW)
		db.AssertExpectations(t)
	})

	t.Run("Explicit Range", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		start := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)
		end := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
		db.On("GetSlots", mock.Anything, "agile", equalTime(start), equalTime(end)).Return([]types.Slot{}, nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/slots?start=2025-01-09T00:00:00Z&end=2025-01-10T00:00:00Z", nil)
		srv.setupHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		db.AssertExpectations(t)
	})

	t.Run("Bad Range", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		for _, q := range []string{"start=yesterday", "end=2025-01-01T00:00:00Z"} {
			rr := httptest.NewRecorder()
			srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/slots?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		}
		db.AssertNotCalled(t, "GetSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Storage Error", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		db.On("GetSlots", mock.Anything, "agile", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
		rr := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/slots", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestHandleSettingHistory(t *testing.T) {
	srv, db, _ := newTestServer(t)
	records := []types.SettingRecord{{
		Sequence: 1,
		Device:   "mock",
		Setting:  "Enable AC Charge Upper % Limit",
		Action:   types.SettingActionWrite,
		Value:    "1",
	}}
	db.On("SettingHistory", mock.Anything, "mock", equalTime(testNow.Add(-24*time.Hour)), equalTime(testNow)).Return(records, nil).Once()
	db.On("SettingHistory", mock.Anything, "other", mock.Anything, mock.Anything).Return([]types.SettingRecord{}, nil).Once()

	rr := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settings/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got []types.SettingRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Value)

	rr = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settings/history?device=other", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	db.AssertExpectations(t)
}

func TestHandleProjection(t *testing.T) {
	raw, err := os.ReadFile("../component/testdata/projection.yaml")
	require.NoError(t, err)

	t.Run("Runs And Stores", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		db.On("InsertProjection", mock.Anything, mock.MatchedBy(func(p types.Projection) bool {
			return p.Name == "terrace" && len(p.Years) == 3 && p.ID != ""
		})).Return(nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/projection", strings.NewReader(string(raw)))
		srv.setupHandler().ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var p types.Projection
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
		assert.Equal(t, "terrace", p.Name)
		assert.True(t, testNow.Equal(p.CreatedAt))
		require.Len(t, p.Years, 3)
		assert.Equal(t, 0, p.Years[0].Year)
		db.AssertExpectations(t)
	})

	t.Run("Invalid Config", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/projection", strings.NewReader("name: x\nunknown_field: 1\n"))
		srv.setupHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		db.AssertNotCalled(t, "InsertProjection", mock.Anything, mock.Anything)
	})

	t.Run("Store Error", func(t *testing.T) {
		srv, db, _ := newTestServer(t)
		db.On("InsertProjection", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/projection", strings.NewReader(string(raw)))
		srv.setupHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.allowedOrigins = []string{"https://app.example.com"}
	handler := srv.setupHandler()

	t.Run("Healthz Headers", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
		assert.Equal(t, "dispatcher-test", rr.Header().Get("Server"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.Contains(t, rr.Header().Get("Strict-Transport-Security"), "max-age=")
		assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src 'none'")
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "dispatcher_optimizer_evaluations_total")
	})

	t.Run("CORS", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Gzip", func(t *testing.T) {
		db := srv.storage.(*storagemock.MockDatabase)
		slots := make([]types.Slot, 48)
		for i := range slots {
			slots[i] = types.Slot{TariffCombination: "agile", Index: i}
		}
		db.On("GetSlots", mock.Anything, "agile", mock.Anything, mock.Anything).Return(slots, nil).Once()
		req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitList(" a@example.com, ,b@example.com"))
}
