package geo

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two coordinates in
// meters using the haversine formula.
func Distance(a, b model.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Result is the outcome of one geofence evaluation.
type Result struct {
	LocationID     string
	LocationName   string
	DistanceMeters float64
	WithinGeofence bool
	AccuracyBuffer float64
}

// Evaluator tests reported positions against the active work-location set.
type Evaluator struct {
	logger *zap.Logger
}

func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate selects the nearest active location and tests containment against
// its radius plus the reported accuracy. The accuracy buffer is capped at
// accuracyCap so a falsely huge accuracy value cannot defeat the check. Ties
// on distance break toward the lowest location ID for determinism.
func (e *Evaluator) Evaluate(point model.Coordinate, accuracyMeters, accuracyCap float64, locations []*model.WorkLocation) (*Result, error) {
	if !point.Valid() {
		return nil, fmt.Errorf("%w: lat=%f lon=%f", model.ErrInvalidCoordinate, point.Latitude, point.Longitude)
	}

	active := make([]*model.WorkLocation, 0, len(locations))
	for _, loc := range locations {
		if loc != nil && loc.IsActive {
			active = append(active, loc)
		}
	}
	if len(active) == 0 {
		return nil, model.ErrNoActiveWorkLocation
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LocationID < active[j].LocationID
	})

	buffer := accuracyMeters
	if buffer < 0 {
		buffer = 0
	}
	if accuracyCap >= 0 && buffer > accuracyCap {
		buffer = accuracyCap
	}

	nearest := active[0]
	nearestDistance := Distance(point, nearest.Center)
	for _, loc := range active[1:] {
		if d := Distance(point, loc.Center); d < nearestDistance {
			nearest = loc
			nearestDistance = d
		}
	}

	result := &Result{
		LocationID:     nearest.LocationID,
		LocationName:   nearest.Name,
		DistanceMeters: nearestDistance,
		WithinGeofence: nearestDistance <= nearest.RadiusMeters+buffer,
		AccuracyBuffer: buffer,
	}

	util.Debug("Geofence evaluated",
		zap.String("location_id", result.LocationID),
		zap.Float64("distance_meters", result.DistanceMeters),
		zap.Float64("accuracy_buffer", result.AccuracyBuffer),
		zap.Bool("within_geofence", result.WithinGeofence))

	return result, nil
}
