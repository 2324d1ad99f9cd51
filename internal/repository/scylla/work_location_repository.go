package scylla

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// WorkLocationRepository reads the geofence catalog. Writes exist for the
// admin surface; the engine itself only lists active locations.
type WorkLocationRepository struct {
	client *ScyllaClient
}

func NewWorkLocationRepository(client *ScyllaClient, logger *zap.Logger) *WorkLocationRepository {
	return &WorkLocationRepository{client: client}
}

func (r *WorkLocationRepository) ListActiveLocations(ctx context.Context) ([]*model.WorkLocation, error) {
	iter := r.client.Prepared.ListActiveLocations.WithContext(ctx).Bind().Iter()

	var locations []*model.WorkLocation
	loc := &model.WorkLocation{}
	for iter.Scan(&loc.LocationID, &loc.Name, &loc.Center.Latitude, &loc.Center.Longitude,
		&loc.RadiusMeters, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt) {
		if loc.IsActive {
			locations = append(locations, loc)
		}
		loc = &model.WorkLocation{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list work locations: %w", err)
	}

	return locations, nil
}

func (r *WorkLocationRepository) SaveLocation(ctx context.Context, loc *model.WorkLocation) error {
	if loc.LocationID == "" {
		loc.LocationID = uuid.New().String()
	}
	if !loc.Center.Valid() {
		return model.ErrInvalidCoordinate
	}
	if loc.RadiusMeters <= 0 {
		return fmt.Errorf("work location %s: radius must be positive", loc.LocationID)
	}

	query := r.client.Prepared.SaveLocation.WithContext(ctx).Bind(
		loc.LocationID, loc.Name, loc.Center.Latitude, loc.Center.Longitude,
		loc.RadiusMeters, loc.IsActive, loc.CreatedAt, loc.UpdatedAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to save work location",
			zap.String("location_id", loc.LocationID),
			zap.Error(err))
		return fmt.Errorf("failed to save work location: %w", err)
	}

	return nil
}
