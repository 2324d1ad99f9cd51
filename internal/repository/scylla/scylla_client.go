package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/config"
	"attendance-service/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the
// repositories.
type PreparedStatements struct {
	UpsertBinding    *gocql.Query
	GetBinding       *gocql.Query
	ListUserBindings *gocql.Query
	VerifyBinding    *gocql.Query
	RevokeBinding    *gocql.Query

	CreateUserBlock  *gocql.Query
	CreateBlockEntry *gocql.Query
	GetUserBlock     *gocql.Query
	LiftUserBlock    *gocql.Query

	GetActivePointer  *gocql.Query
	GetConfiguration  *gocql.Query
	SaveConfiguration *gocql.Query
	SetActivePointer  *gocql.Query

	ListActiveLocations *gocql.Query
	SaveLocation        *gocql.Query

	InsertAttempt       *gocql.Query
	InsertVerdict       *gocql.Query
	InsertVerdictByDay  *gocql.Query
	GetLastAttempt      *gocql.Query
	ListRecentPositions *gocql.Query
	ListUserVerdicts    *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.UpsertBinding = s.Session.Query(`
        INSERT INTO device_bindings (
            user_id, device_id, user_bucket, registered_at, verified_at,
            is_active, bind_token_hash, revoked_reason
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetBinding = s.Session.Query(`
        SELECT user_id, device_id, user_bucket, registered_at, verified_at,
            is_active, bind_token_hash, revoked_reason
        FROM device_bindings WHERE user_id = ? AND device_id = ?`)

	prepared.ListUserBindings = s.Session.Query(`
        SELECT user_id, device_id, user_bucket, registered_at, verified_at,
            is_active, bind_token_hash, revoked_reason
        FROM device_bindings WHERE user_id = ?`)

	prepared.VerifyBinding = s.Session.Query(`
        UPDATE device_bindings SET verified_at = ?
        WHERE user_id = ? AND device_id = ?`)

	prepared.RevokeBinding = s.Session.Query(`
        UPDATE device_bindings SET is_active = false, revoked_reason = ?
        WHERE user_id = ? AND device_id = ?`)

	prepared.CreateUserBlock = s.Session.Query(`
        INSERT INTO user_blocks (
            user_id, block_id, reason, started_at, expires_at,
            admin_override, is_active, lifted_by
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateBlockEntry = s.Session.Query(`
        INSERT INTO block_history (
            user_id, block_id, reason, started_at, expires_at,
            admin_override, is_active, lifted_by
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetUserBlock = s.Session.Query(`
        SELECT user_id, block_id, reason, started_at, expires_at,
            admin_override, is_active, lifted_by
        FROM user_blocks WHERE user_id = ?`)

	prepared.LiftUserBlock = s.Session.Query(`
        UPDATE user_blocks SET is_active = false, admin_override = true, lifted_by = ?
        WHERE user_id = ?`)

	prepared.GetActivePointer = s.Session.Query(`
        SELECT config_id FROM active_configuration WHERE name = 'active'`)

	prepared.SetActivePointer = s.Session.Query(`
        INSERT INTO active_configuration (name, config_id) VALUES ('active', ?)`)

	prepared.GetConfiguration = s.Session.Query(`
        SELECT config_id, version, is_active,
            mock_location_score, fake_gps_app_score, developer_mode_score,
            impossible_travel_score, coordinate_anomaly_score, device_integrity_score,
            new_device_score,
            mock_location_enabled, fake_gps_app_enabled, developer_mode_enabled,
            impossible_travel_enabled, coordinate_anomaly_enabled, device_integrity_enabled,
            low_risk_threshold, medium_risk_threshold, high_risk_threshold, blocked_threshold,
            warning_action_threshold, flagged_action_threshold, blocked_action_threshold,
            max_travel_speed_kmh, min_time_between_locations,
            accuracy_threshold_meters, perfect_accuracy_epsilon,
            fake_gps_packages, device_policy, max_devices_per_user,
            require_admin_approval, device_auto_cleanup_days,
            auto_block_enabled, block_duration_hours, require_admin_unblock,
            updated_by, updated_at
        FROM risk_configurations WHERE config_id = ?`)

	prepared.SaveConfiguration = s.Session.Query(`
        INSERT INTO risk_configurations (
            config_id, version, is_active,
            mock_location_score, fake_gps_app_score, developer_mode_score,
            impossible_travel_score, coordinate_anomaly_score, device_integrity_score,
            new_device_score,
            mock_location_enabled, fake_gps_app_enabled, developer_mode_enabled,
            impossible_travel_enabled, coordinate_anomaly_enabled, device_integrity_enabled,
            low_risk_threshold, medium_risk_threshold, high_risk_threshold, blocked_threshold,
            warning_action_threshold, flagged_action_threshold, blocked_action_threshold,
            max_travel_speed_kmh, min_time_between_locations,
            accuracy_threshold_meters, perfect_accuracy_epsilon,
            fake_gps_packages, device_policy, max_devices_per_user,
            require_admin_approval, device_auto_cleanup_days,
            auto_block_enabled, block_duration_hours, require_admin_unblock,
            updated_by, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.ListActiveLocations = s.Session.Query(`
        SELECT location_id, name, latitude, longitude, radius_meters,
            is_active, created_at, updated_at
        FROM work_locations`)

	prepared.SaveLocation = s.Session.Query(`
        INSERT INTO work_locations (
            location_id, name, latitude, longitude, radius_meters,
            is_active, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertAttempt = s.Session.Query(`
        INSERT INTO attempts_by_user (
            user_id, attempt_time, attempt_id, latitude, longitude,
            accuracy_meters, device_id, fingerprint_payload,
            fingerprint_dek, fingerprint_key_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertVerdict = s.Session.Query(`
        INSERT INTO verdicts_by_user (
            user_id, recorded_at, verdict_id, attempt_id, risk_score,
            risk_level, action_taken, detection_methods, block_expiry,
            location_id, distance_meters, within_geofence, config_version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertVerdictByDay = s.Session.Query(`
        INSERT INTO verdicts_by_day (
            verdict_date, event_bucket, recorded_at, verdict_id, attempt_id,
            user_id, risk_score, risk_level, action_taken, detection_methods,
            block_expiry, location_id, distance_meters, within_geofence, config_version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetLastAttempt = s.Session.Query(`
        SELECT user_id, attempt_time, attempt_id, latitude, longitude,
            accuracy_meters, device_id
        FROM attempts_by_user WHERE user_id = ? LIMIT 1`)

	prepared.ListRecentPositions = s.Session.Query(`
        SELECT latitude, longitude FROM attempts_by_user WHERE user_id = ? LIMIT ?`)

	prepared.ListUserVerdicts = s.Session.Query(`
        SELECT user_id, recorded_at, verdict_id, attempt_id, risk_score,
            risk_level, action_taken, detection_methods, block_expiry,
            location_id, distance_meters, within_geofence, config_version
        FROM verdicts_by_user WHERE user_id = ? LIMIT ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
