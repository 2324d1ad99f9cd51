package model

import (
	"testing"
	"time"
)

func TestDeviceBindingVerified(t *testing.T) {
	b := &DeviceBinding{UserID: "user-1", DeviceID: "device-1", IsActive: true}
	if b.Verified() {
		t.Error("Verified() = true for binding without VerifiedAt")
	}

	zero := time.Time{}
	b.VerifiedAt = &zero
	if b.Verified() {
		t.Error("Verified() = true for zero VerifiedAt")
	}

	now := time.Now()
	b.VerifiedAt = &now
	if !b.Verified() {
		t.Error("Verified() = false for verified binding")
	}
}

func TestBlockRecordExpiry(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-time.Hour)

	r := &BlockRecord{BlockID: "blk-1", UserID: "user-1", IsActive: true, ExpiresAt: &expiry}
	if !r.Expired(now) {
		t.Error("Expired() = false for past expiry")
	}
	if r.InEffect(now) {
		t.Error("InEffect() = true for expired block")
	}

	future := now.Add(time.Hour)
	r.ExpiresAt = &future
	if r.Expired(now) {
		t.Error("Expired() = true for future expiry")
	}
	if !r.InEffect(now) {
		t.Error("InEffect() = false for active, unexpired block")
	}
}

func TestBlockRecordWithoutExpiryNeverExpires(t *testing.T) {
	r := &BlockRecord{BlockID: "blk-2", UserID: "user-1", IsActive: true}
	now := time.Now().Add(1000 * time.Hour)
	if r.Expired(now) {
		t.Error("Expired() = true for block without expiry")
	}
	if !r.InEffect(now) {
		t.Error("InEffect() = false for admin-unblock-only block")
	}
}

func TestBlockRecordAdminOverride(t *testing.T) {
	r := &BlockRecord{BlockID: "blk-3", UserID: "user-1", IsActive: true, AdminOverride: true}
	if r.InEffect(time.Now()) {
		t.Error("InEffect() = true after admin override")
	}
}

func TestCoordinateValid(t *testing.T) {
	cases := []struct {
		coord Coordinate
		want  bool
	}{
		{Coordinate{Latitude: -6.2, Longitude: 106.8}, true},
		{Coordinate{Latitude: 90, Longitude: 180}, true},
		{Coordinate{Latitude: -90, Longitude: -180}, true},
		{Coordinate{Latitude: 90.1, Longitude: 0}, false},
		{Coordinate{Latitude: 0, Longitude: 180.5}, false},
		{Coordinate{Latitude: -91, Longitude: -181}, false},
	}
	for _, tc := range cases {
		if got := tc.coord.Valid(); got != tc.want {
			t.Errorf("Coordinate{%v, %v}.Valid() = %v, want %v",
				tc.coord.Latitude, tc.coord.Longitude, got, tc.want)
		}
	}
}
