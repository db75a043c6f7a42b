package component

import (
	"fmt"
	"math"

	"github.com/raterudder/dispatcher/pkg/types"
)

const (
	surfaceReflectance       = 0.2
	earthTiltDegrees         = 23.45
	solarEquinoxFractionYear = 81.0 / 365.25
)

// OrientationType is how a collector faces the sun.
type OrientationType string

const (
	OrientationFlat         OrientationType = "flat"
	OrientationTilted       OrientationType = "tilted"
	OrientationOneAxisTrack OrientationType = "1-axis tracker"
	OrientationTwoAxisTrack OrientationType = "2-axis tracker"
)

// Orientation of a collector. Azimuth is a compass bearing, so 180 faces
// south.
type Orientation struct {
	Type           OrientationType `yaml:"type"`
	AzimuthDegrees *float64        `yaml:"azimuth_degrees"`
	TiltDegrees    *float64        `yaml:"tilt_degrees"`
}

func (o Orientation) Validate(field string) error {
	switch o.Type {
	case "", OrientationFlat, OrientationTilted, OrientationOneAxisTrack, OrientationTwoAxisTrack:
	default:
		return &types.ConfigError{Field: field + ".type", Reason: fmt.Sprintf("unknown orientation %q", o.Type)}
	}
	if v := optional(o.TiltDegrees, 35); v < 0 || v > 90 {
		return types.RangeError(field+".tilt_degrees", v, 0, 90)
	}
	if v := optional(o.AzimuthDegrees, 180); v < 0 || v > 360 {
		return types.RangeError(field+".azimuth_degrees", v, 0, 360)
	}
	return nil
}

// Coordinates of the site.
type Coordinates struct {
	LatitudeDegrees  float64 `yaml:"latitude_degrees"`
	LongitudeDegrees float64 `yaml:"longitude_degrees"`
}

// CloudCover gives a clear-sky multiplier at twelve points of the year.
type CloudCover struct {
	Fractions []float64 `yaml:"fractions"`
	Factors   []float64 `yaml:"factors"`
}

// InternalConfig is the comfort target of the house.
type InternalConfig struct {
	TemperatureTargetCelsius *float64 `yaml:"temperature_target_celsius"`
	TargetHours              []int    `yaml:"target_hours"`
}

// LocationConfig is the location section.
type LocationConfig struct {
	Coordinates            Coordinates    `yaml:"coordinates"`
	TimeCorrectionFraction float64        `yaml:"time_correction_fraction"`
	CloudCoverMonths       CloudCover     `yaml:"cloud_cover_months"`
	Internal               InternalConfig `yaml:"internal"`
}

// DefaultTemperatureTargetC is the room temperature when none is set.
const DefaultTemperatureTargetC = 21.0

// TargetC is the configured room temperature.
func (c LocationConfig) TargetC() float64 {
	return optional(c.Internal.TemperatureTargetCelsius, DefaultTemperatureTargetC)
}

func (c LocationConfig) Validate() error {
	if v := c.Coordinates.LatitudeDegrees; v < -90 || v > 90 {
		return types.RangeError("location.coordinates.latitude_degrees", v, -90, 90)
	}
	if v := c.Coordinates.LongitudeDegrees; v < -180 || v > 180 {
		return types.RangeError("location.coordinates.longitude_degrees", v, -180, 180)
	}
	if v := c.TimeCorrectionFraction; v < -1 || v > 1 {
		return types.RangeError("location.time_correction_fraction", v, -1, 1)
	}
	if len(c.CloudCoverMonths.Fractions) != 12 {
		return &types.ConfigError{Field: "location.cloud_cover_months.fractions", Reason: "12 values are required"}
	}
	if len(c.CloudCoverMonths.Factors) != 12 {
		return &types.ConfigError{Field: "location.cloud_cover_months.factors", Reason: "12 values are required"}
	}
	for i := 1; i < 12; i++ {
		if c.CloudCoverMonths.Fractions[i] <= c.CloudCoverMonths.Fractions[i-1] {
			return &types.ConfigError{Field: "location.cloud_cover_months.fractions", Reason: "values must increase"}
		}
	}
	if v := c.TargetC(); v < 10 || v > 30 {
		return types.RangeError("location.internal.temperature_target_celsius", v, 10, 30)
	}
	for _, h := range c.Internal.TargetHours {
		if h < 0 || h > 23 {
			return types.RangeError("location.internal.target_hours", float64(h), 0, 23)
		}
	}
	return nil
}

// Solar models sunlight falling on one collector face.
type Solar struct {
	loc         LocationConfig
	orientation OrientationType
	azimuth     float64
	tilt        float64
}

// NewSolar returns the model for a face at loc.
func NewSolar(loc LocationConfig, o Orientation) *Solar {
	t := o.Type
	if t == "" {
		t = OrientationTilted
	}
	return &Solar{
		loc:         loc,
		orientation: t,
		azimuth:     optional(o.AzimuthDegrees, 180),
		tilt:        optional(o.TiltDegrees, 35),
	}
}

func sinD(d float64) float64 { return math.Sin(d * math.Pi / 180) }
func cosD(d float64) float64 { return math.Cos(d * math.Pi / 180) }
func tanD(d float64) float64 { return math.Tan(d * math.Pi / 180) }

// ClearSkyWPerM2 is the insolation on the face without cloud.
func (s *Solar) ClearSkyWPerM2(fractionYear, fractionDay float64) float64 {
	lat := s.loc.Coordinates.LatitudeDegrees
	extraterrestrial := 1160 + 75*sinD(360*fractionYear-275)
	opticalDepth := 0.174 + 0.035*sinD(360*fractionYear-100)
	diffuseFactor := 0.095 + 0.04*sinD(360*fractionYear-100)
	declination := earthTiltDegrees * sinD(360*(fractionYear-solarEquinoxFractionYear))

	lc := 360 * (fractionYear - solarEquinoxFractionYear)
	eot := (9.87*sinD(2*lc) - 7.53*cosD(lc) - 1.5*sinD(lc)) / (60 * 24)
	noon := 0.5 - eot + s.loc.TimeCorrectionFraction - s.loc.Coordinates.LongitudeDegrees/360
	hourAngle := 15 * 24 * (noon - fractionDay)

	altitude := math.Asin(cosD(lat)*cosD(declination)*cosD(hourAngle)+sinD(lat)*sinD(declination)) * 180 / math.Pi
	if altitude <= 0 {
		return 0
	}
	azimuth := math.Asin(cosD(declination)*sinD(hourAngle)/cosD(altitude)) * 180 / math.Pi
	if cosD(hourAngle) < tanD(declination)/tanD(lat) {
		if fractionDay < 0.5 {
			azimuth = 180 - azimuth
		} else {
			azimuth = -azimuth - 180
		}
	}
	beam := extraterrestrial * math.Exp(-opticalDepth/sinD(altitude))

	var direct, diffuse, reflected float64
	switch s.orientation {
	case OrientationFlat:
		direct = beam * sinD(altitude)
		diffuse = diffuseFactor * beam
	case OrientationTilted:
		cosIncidence := cosD(altitude)*cosD(azimuth-(s.azimuth-180))*sinD(s.tilt) + sinD(altitude)*cosD(s.tilt)
		direct = math.Max(beam*cosIncidence, 0)
		diffuse = diffuseFactor * beam * (1 + cosD(s.tilt)) / 2
		reflected = surfaceReflectance * beam * (sinD(altitude) + diffuseFactor) * (1 - cosD(s.tilt)) / 2
	case OrientationOneAxisTrack:
		tilt := 90 - altitude + declination
		direct = beam * cosD(declination)
		diffuse = diffuseFactor * beam * (1 + cosD(tilt)) / 2
		reflected = surfaceReflectance * beam * (sinD(altitude) + diffuseFactor) * (1 - cosD(tilt)) / 2
	case OrientationTwoAxisTrack:
		tilt := 90 - altitude
		direct = beam
		diffuse = diffuseFactor * beam * (1 + cosD(tilt)) / 2
		reflected = surfaceReflectance * beam * (sinD(altitude) + diffuseFactor) * (1 - cosD(tilt)) / 2
	}
	return direct + diffuse + reflected
}

// CloudFactor interpolates the monthly factors, wrapping across the year
// end.
func (s *Solar) CloudFactor(fractionYear float64) float64 {
	fr, fa := s.loc.CloudCoverMonths.Fractions, s.loc.CloudCoverMonths.Factors
	if len(fr) != 12 || len(fa) != 12 {
		return 1
	}
	i := 0
	for i < 12 && fr[i] <= fractionYear {
		i++
	}
	var xLo, xHi, yLo, yHi float64
	switch i {
	case 0:
		xLo, yLo = fr[11]-1, fa[11]
		xHi, yHi = fr[0], fa[0]
	case 12:
		xLo, yLo = fr[11], fa[11]
		xHi, yHi = fr[0]+1, fa[0]
	default:
		xLo, yLo = fr[i-1], fa[i-1]
		xHi, yHi = fr[i], fa[i]
	}
	return yLo + (fractionYear-xLo)*(yHi-yLo)/(xHi-xLo)
}

// InsolationWPerM2 is the cloud corrected insolation on the face.
func (s *Solar) InsolationWPerM2(fractionYear, fractionDay float64) float64 {
	return s.CloudFactor(fractionYear) * s.ClearSkyWPerM2(fractionYear, fractionDay)
}
