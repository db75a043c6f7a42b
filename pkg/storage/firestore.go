package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

const settingDocTime = "2006-01-02T15:04:05.000000000Z"

// FirestoreProvider implements Database using Google Cloud Firestore. Every
// record is stored as a JSON blob next to the few fields it is queried by,
// under households/{household}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	household string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	household := lflag.String("firestore-household", "home", "Document under households/ that holds this installation's data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.household = *household

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.household == "" {
		return fmt.Errorf("firestore-household cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("households").Doc(f.household).Collection(name)
}

// decodeDoc unmarshals the "json" field of doc into dest.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func slotDoc(s types.Slot) (map[string]interface{}, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slot: %w", err)
	}
	return map[string]interface{}{
		"json":              string(b),
		"tariffCombination": s.TariffCombination,
		"start":             s.Start,
		"stop":              s.Stop,
		"final":             s.Final,
	}, nil
}

// GetSlots implements Database.
func (f *FirestoreProvider) GetSlots(ctx context.Context, tariffCombination string, start, end time.Time) ([]types.Slot, error) {
	iter := f.collection("slots").
		Where("tariffCombination", "==", tariffCombination).
		Where("start", ">=", start).
		Where("start", "<", end).
		OrderBy("start", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var slots []types.Slot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating slots: %w", err)
		}
		var s types.Slot
		if err := decodeDoc(ctx, doc, &s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// CommitCycle implements Database inside a single transaction. All reads
// happen before the first write as Firestore requires.
func (f *FirestoreProvider) CommitCycle(ctx context.Context, c Cycle) error {
	slots := f.collection("slots")
	refs := make([]*firestore.DocumentRef, len(c.Slots))
	for i, s := range c.Slots {
		refs[i] = slots.Doc(slotKey(s.TariffCombination, s.Start))
	}

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing []*firestore.DocumentSnapshot
		if len(refs) > 0 {
			var err error
			existing, err = tx.GetAll(refs)
			if err != nil {
				return fmt.Errorf("failed to get slots: %w", err)
			}
		}
		ended, err := tx.Documents(slots.
			Where("tariffCombination", "==", c.TariffCombination).
			Where("final", "==", false).
			Where("stop", "<=", c.At)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to get ended slots: %w", err)
		}

		for i, s := range c.Slots {
			if snap := existing[i]; snap.Exists() {
				if v, err := snap.DataAt("final"); err == nil {
					if final, ok := v.(bool); ok && final {
						continue
					}
				}
			}
			s.CycleID = c.ID
			s.Final = !s.Stop.After(c.At)
			data, err := slotDoc(s)
			if err != nil {
				return err
			}
			if err := tx.Set(refs[i], data); err != nil {
				return err
			}
		}

		written := make(map[string]bool, len(refs))
		for _, r := range refs {
			written[r.ID] = true
		}
		for _, doc := range ended {
			if written[doc.Ref.ID] {
				continue
			}
			var s types.Slot
			if err := decodeDoc(ctx, doc, &s); err != nil {
				return err
			}
			s.Final = true
			data, err := slotDoc(s)
			if err != nil {
				return err
			}
			if err := tx.Set(doc.Ref, data); err != nil {
				return err
			}
		}

		if o := c.Observation; o != nil {
			b, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("failed to marshal observation: %w", err)
			}
			err = tx.Set(f.collection("energy_history").Doc(o.TSStart.UTC().Format(time.RFC3339)), map[string]interface{}{
				"json":      string(b),
				"timestamp": o.TSStart,
			})
			if err != nil {
				return err
			}
		}

		settings := f.collection("settings")
		for _, r := range c.Settings {
			b, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal setting record: %w", err)
			}
			id := fmt.Sprintf("%s_%s_%06d", r.Timestamp.UTC().Format(settingDocTime), r.CycleID, r.Sequence)
			err = tx.Set(settings.Doc(id), map[string]interface{}{
				"json":      string(b),
				"device":    r.Device,
				"setting":   r.Setting,
				"timestamp": r.Timestamp,
				"sequence":  r.Sequence,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Op(ctx, "storage.FirestoreProvider.CommitCycle").ErrorContext(ctx, "failed to commit cycle", slog.String("cycleID", c.ID), slog.Any("error", err))
		return fmt.Errorf("failed to commit cycle %s: %w", c.ID, err)
	}
	return nil
}

// LatestSetting implements Database.
func (f *FirestoreProvider) LatestSetting(ctx context.Context, device, setting string) (types.SettingRecord, error) {
	iter := f.collection("settings").
		Where("device", "==", device).
		Where("setting", "==", setting).
		OrderBy("timestamp", firestore.Desc).
		OrderBy("sequence", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.SettingRecord{}, fmt.Errorf("%w: %s", ErrSettingNotFound, setting)
	}
	if err != nil {
		return types.SettingRecord{}, fmt.Errorf("failed to get latest setting doc: %w", err)
	}
	var r types.SettingRecord
	if err := decodeDoc(ctx, doc, &r); err != nil {
		return types.SettingRecord{}, err
	}
	return r, nil
}

// SettingHistory implements Database.
func (f *FirestoreProvider) SettingHistory(ctx context.Context, device string, start, end time.Time) ([]types.SettingRecord, error) {
	iter := f.collection("settings").
		Where("device", "==", device).
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		OrderBy("sequence", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var records []types.SettingRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating settings: %w", err)
		}
		var r types.SettingRecord
		if err := decodeDoc(ctx, doc, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// GetEnergyHistory retrieves observations within the specified time range.
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	coll := f.collection("energy_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var all []types.EnergyStats
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating energy history: %w", err)
		}
		var s types.EnergyStats
		if err := decodeDoc(ctx, doc, &s); err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, nil
}

// InsertProjection implements Database. Projection ids are never reused.
func (f *FirestoreProvider) InsertProjection(ctx context.Context, p types.Projection) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	_, err = f.collection("projections").Doc(p.ID).Create(ctx, map[string]interface{}{
		"json":      string(b),
		"name":      p.Name,
		"createdAt": p.CreatedAt,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("projection %s already exists", p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert projection: %w", err)
	}
	return nil
}
