package risk

import (
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// Decision is the resolved action for a scored attempt.
type Decision struct {
	Action model.Action
	// BlockExpiry is set when Action is block, auto-blocking is enabled, and
	// the configuration does not demand an admin unblock.
	BlockExpiry *time.Time
	// BlockRequired is true when a BlockRecord must be created.
	BlockRequired bool
}

// Decider maps a risk score onto an action. Action thresholds are evaluated
// independently of the risk-level labels.
type Decider struct {
	logger *zap.Logger
}

func NewDecider(logger *zap.Logger) *Decider {
	return &Decider{logger: logger}
}

// Decide resolves the action for a score at the given instant.
func (d *Decider) Decide(score int, cfg *model.RiskConfiguration, now time.Time) Decision {
	var decision Decision

	switch {
	case score >= cfg.BlockedActionThreshold:
		decision.Action = model.ActionBlock
	case score >= cfg.FlaggedActionThreshold:
		decision.Action = model.ActionFlag
	case score >= cfg.WarningActionThreshold:
		decision.Action = model.ActionWarn
	default:
		decision.Action = model.ActionAllow
	}

	if decision.Action == model.ActionBlock && cfg.AutoBlockEnabled {
		decision.BlockRequired = true
		if !cfg.RequireAdminUnblock {
			expiry := now.Add(time.Duration(cfg.BlockDurationHours) * time.Hour)
			decision.BlockExpiry = &expiry
		}
	}

	util.Debug("Action decided",
		zap.Int("score", score),
		zap.String("action", string(decision.Action)),
		zap.Bool("block_required", decision.BlockRequired))

	return decision
}
