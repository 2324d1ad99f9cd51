package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/encryption"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// AttemptRepository writes the immutable audit trail: every attempt alongside
// its verdict, in a single logged batch so the two never diverge. The raw
// device fingerprint is envelope-encrypted before it reaches storage.
type AttemptRepository struct {
	client     *ScyllaClient
	encryption *encryption.Manager
	buckets    *bucketing.Manager
}

func NewAttemptRepository(client *ScyllaClient, enc *encryption.Manager, buckets *bucketing.Manager, logger *zap.Logger) *AttemptRepository {
	return &AttemptRepository{
		client:     client,
		encryption: enc,
		buckets:    buckets,
	}
}

func (r *AttemptRepository) RecordAttempt(ctx context.Context, attempt *model.AttendanceAttempt, verdict *model.Verdict) error {
	fingerprintJSON, err := json.Marshal(attempt.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to serialize fingerprint: %w", err)
	}

	sealed, err := r.encryption.EncryptPayload(ctx, string(fingerprintJSON))
	if err != nil {
		return fmt.Errorf("failed to encrypt fingerprint: %w", err)
	}

	var blockExpiry time.Time
	if verdict.BlockExpiry != nil {
		blockExpiry = *verdict.BlockExpiry
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(`
        INSERT INTO attempts_by_user (
            user_id, attempt_time, attempt_id, latitude, longitude,
            accuracy_meters, device_id, fingerprint_payload,
            fingerprint_dek, fingerprint_key_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.UserID, attempt.Timestamp, attempt.AttemptID,
		attempt.Position.Latitude, attempt.Position.Longitude,
		attempt.AccuracyMeters, attempt.Fingerprint.DeviceID,
		sealed.EncryptedValue, sealed.EncryptedDEK, sealed.KeyID)

	batch.Query(`
        INSERT INTO verdicts_by_user (
            user_id, recorded_at, verdict_id, attempt_id, risk_score,
            risk_level, action_taken, detection_methods, block_expiry,
            location_id, distance_meters, within_geofence, config_version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		verdict.UserID, verdict.RecordedAt, verdict.VerdictID, verdict.AttemptID,
		verdict.RiskScore, string(verdict.RiskLevel), string(verdict.ActionTaken),
		verdict.DetectionMethods, blockExpiry,
		verdict.LocationID, verdict.DistanceMeters, verdict.WithinGeofence, verdict.ConfigVersion)

	batch.Query(`
        INSERT INTO verdicts_by_day (
            verdict_date, event_bucket, recorded_at, verdict_id, attempt_id,
            user_id, risk_score, risk_level, action_taken, detection_methods,
            block_expiry, location_id, distance_meters, within_geofence, config_version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.buckets.GetDateBucket(verdict.RecordedAt), r.buckets.GetEventBucket(verdict.VerdictID),
		verdict.RecordedAt, verdict.VerdictID, verdict.AttemptID,
		verdict.UserID, verdict.RiskScore, string(verdict.RiskLevel), string(verdict.ActionTaken),
		verdict.DetectionMethods, blockExpiry,
		verdict.LocationID, verdict.DistanceMeters, verdict.WithinGeofence, verdict.ConfigVersion)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to record attendance attempt",
			zap.String("user_id", attempt.UserID),
			zap.String("attempt_id", attempt.AttemptID),
			zap.Error(err))
		return fmt.Errorf("failed to record attendance attempt: %w", err)
	}

	return nil
}

// GetLastAttempt returns the user's most recent attempt without decrypting
// the stored fingerprint; travel checks only need position and time.
func (r *AttemptRepository) GetLastAttempt(ctx context.Context, userID string) (*model.AttendanceAttempt, error) {
	attempt := &model.AttendanceAttempt{}

	query := r.client.Prepared.GetLastAttempt.WithContext(ctx).Bind(userID)
	err := r.client.ScanWithRetry(query,
		&attempt.UserID, &attempt.Timestamp, &attempt.AttemptID,
		&attempt.Position.Latitude, &attempt.Position.Longitude,
		&attempt.AccuracyMeters, &attempt.Fingerprint.DeviceID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read last attempt: %w", err)
	}

	return attempt, nil
}

func (r *AttemptRepository) ListRecentPositions(ctx context.Context, userID string, limit int) ([]model.Coordinate, error) {
	iter := r.client.Prepared.ListRecentPositions.WithContext(ctx).Bind(userID, limit).Iter()

	var positions []model.Coordinate
	var lat, lon float64
	for iter.Scan(&lat, &lon) {
		positions = append(positions, model.Coordinate{Latitude: lat, Longitude: lon})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list recent positions: %w", err)
	}

	return positions, nil
}

func (r *AttemptRepository) ListUserVerdicts(ctx context.Context, userID string, limit int) ([]*model.Verdict, error) {
	iter := r.client.Prepared.ListUserVerdicts.WithContext(ctx).Bind(userID, limit).Iter()

	var verdicts []*model.Verdict
	v := &model.Verdict{}
	var level, action string
	var blockExpiry time.Time
	for iter.Scan(&v.UserID, &v.RecordedAt, &v.VerdictID, &v.AttemptID, &v.RiskScore,
		&level, &action, &v.DetectionMethods, &blockExpiry,
		&v.LocationID, &v.DistanceMeters, &v.WithinGeofence, &v.ConfigVersion) {
		v.RiskLevel = model.RiskLevel(level)
		v.ActionTaken = model.Action(action)
		if !blockExpiry.IsZero() {
			expiry := blockExpiry
			v.BlockExpiry = &expiry
		}
		verdicts = append(verdicts, v)
		v = &model.Verdict{}
		blockExpiry = time.Time{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}

	return verdicts, nil
}
