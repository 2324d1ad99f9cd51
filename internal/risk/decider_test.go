package risk

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/model"
)

func TestDecideActionThresholds(t *testing.T) {
	d := NewDecider(zap.NewNop())
	cfg := testConfig() // warn 30, flag 50, block 80
	now := time.Now()

	cases := []struct {
		score int
		want  model.Action
	}{
		{0, model.ActionAllow},
		{29, model.ActionAllow},
		{30, model.ActionWarn},
		{49, model.ActionWarn},
		{50, model.ActionFlag},
		{79, model.ActionFlag},
		{80, model.ActionBlock},
		{100, model.ActionBlock},
	}
	for _, tc := range cases {
		if got := d.Decide(tc.score, cfg, now).Action; got != tc.want {
			t.Errorf("Decide(%d).Action = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestDecideBlockExpiry(t *testing.T) {
	d := NewDecider(zap.NewNop())
	cfg := testConfig()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	decision := d.Decide(85, cfg, now)
	if !decision.BlockRequired {
		t.Fatal("BlockRequired = false, want true")
	}
	if decision.BlockExpiry == nil {
		t.Fatal("BlockExpiry = nil, want now + block duration")
	}
	want := now.Add(24 * time.Hour)
	if !decision.BlockExpiry.Equal(want) {
		t.Errorf("BlockExpiry = %v, want %v", decision.BlockExpiry, want)
	}
}

func TestDecideAdminUnblockHasNoExpiry(t *testing.T) {
	d := NewDecider(zap.NewNop())
	cfg := testConfig()
	cfg.RequireAdminUnblock = true

	decision := d.Decide(90, cfg, time.Now())
	if !decision.BlockRequired {
		t.Fatal("BlockRequired = false, want true")
	}
	if decision.BlockExpiry != nil {
		t.Errorf("BlockExpiry = %v, want nil when admin unblock is required", decision.BlockExpiry)
	}
}

func TestDecideAutoBlockDisabled(t *testing.T) {
	d := NewDecider(zap.NewNop())
	cfg := testConfig()
	cfg.AutoBlockEnabled = false

	decision := d.Decide(95, cfg, time.Now())
	if decision.Action != model.ActionBlock {
		t.Errorf("Action = %s, want block", decision.Action)
	}
	if decision.BlockRequired {
		t.Error("BlockRequired = true, want false with auto-block disabled")
	}
	if decision.BlockExpiry != nil {
		t.Errorf("BlockExpiry = %v, want nil", decision.BlockExpiry)
	}
}

func TestDecideBelowBlockNeverRequiresBlock(t *testing.T) {
	d := NewDecider(zap.NewNop())
	decision := d.Decide(55, testConfig(), time.Now())
	if decision.Action != model.ActionFlag {
		t.Errorf("Action = %s, want flag", decision.Action)
	}
	if decision.BlockRequired || decision.BlockExpiry != nil {
		t.Error("flag decision must not carry block state")
	}
}
