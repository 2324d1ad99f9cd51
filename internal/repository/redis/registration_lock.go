package redis

import (
	"context"
	"fmt"
	"time"

	"attendance-service/internal/client"
)

const registrationLockPrefix = "device_reg_lock:"

// RegistrationLock serializes first-time device registration per
// (user, device) pair with a short SETNX lease. Losing the race is not an
// error; the loser re-reads the winner's binding.
type RegistrationLock struct {
	client *client.RedisClient
}

func NewRegistrationLock(client *client.RedisClient) *RegistrationLock {
	return &RegistrationLock{client: client}
}

func lockKey(userID, deviceID string) string {
	return registrationLockPrefix + userID + ":" + deviceID
}

func (l *RegistrationLock) Acquire(ctx context.Context, userID, deviceID string, ttl time.Duration) (bool, error) {
	acquired, err := l.client.SetNX(ctx, lockKey(userID, deviceID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire registration lock: %w", err)
	}
	return acquired, nil
}

func (l *RegistrationLock) Release(ctx context.Context, userID, deviceID string) error {
	if err := l.client.Del(ctx, lockKey(userID, deviceID)); err != nil {
		return fmt.Errorf("failed to release registration lock: %w", err)
	}
	return nil
}
