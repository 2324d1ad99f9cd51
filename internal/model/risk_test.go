package model

import (
	"errors"
	"testing"
)

func validConfig() *RiskConfiguration {
	cfg := FailSafeConfig()
	cfg.ConfigID = "cfg-1"
	cfg.Version = 1
	return cfg
}

func TestFailSafeConfigIsValid(t *testing.T) {
	if err := FailSafeConfig().Validate(); err != nil {
		t.Fatalf("FailSafeConfig().Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsWeightOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.FakeGPSAppScore = 101
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration", err)
	}

	cfg = validConfig()
	cfg.MockLocationScore = -5
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration", err)
	}
}

func TestValidateRejectsUnorderedRiskThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.MediumRiskThreshold = cfg.LowRiskThreshold
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for equal thresholds", err)
	}

	cfg = validConfig()
	cfg.HighRiskThreshold = cfg.BlockedThreshold + 10
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for inverted thresholds", err)
	}
}

func TestValidateRejectsUnorderedActionThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.WarningActionThreshold = cfg.FlaggedActionThreshold
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration", err)
	}
}

func TestValidateRejectsBadTravelBounds(t *testing.T) {
	cfg := validConfig()
	cfg.MaxTravelSpeedKmh = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for zero max speed", err)
	}

	cfg = validConfig()
	cfg.PerfectAccuracyEpsilon = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for negative epsilon", err)
	}
}

func TestValidateRejectsUnknownDevicePolicy(t *testing.T) {
	cfg := validConfig()
	cfg.DevicePolicy = "permissive"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration", err)
	}
}

func TestValidateRejectsDeviceAndBlockBounds(t *testing.T) {
	cfg := validConfig()
	cfg.MaxDevicesPerUser = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for zero device limit", err)
	}

	cfg = validConfig()
	cfg.BlockDurationHours = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() = %v, want ErrInvalidConfiguration for zero block duration", err)
	}
}

func TestValidDevicePolicy(t *testing.T) {
	for _, p := range []DevicePolicy{DevicePolicyStrict, DevicePolicyWarn, DevicePolicyFlexible} {
		if !ValidDevicePolicy(p) {
			t.Errorf("ValidDevicePolicy(%q) = false, want true", p)
		}
	}
	if ValidDevicePolicy("open") {
		t.Error("ValidDevicePolicy(\"open\") = true, want false")
	}
}
