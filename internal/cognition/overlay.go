// Package cognition applies an advisory confidence overlay on top of a
// strategy signal: a bounded multiplier on position size, plus a hard
// block list for critical market events. It never originates a signal and
// never overrides the strategy's side or price hints.
package cognition

import (
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/atlas-desktop/autopilot-engine/pkg/utils"
	"go.uber.org/zap"
)

// Event is a scheduled or observed market event the overlay checks the
// signal's origin time against.
type Event struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Overlay holds the active critical-event window set and applies the
// bounded confidence multiplier.
type Overlay struct {
	logger *zap.Logger
	config types.CognitionConfig

	events []Event
}

// New builds a cognition overlay.
func New(logger *zap.Logger, cfg types.CognitionConfig) *Overlay {
	return &Overlay{logger: logger.Named("cognition"), config: cfg}
}

// SetEvents replaces the active critical-event window set. Nothing in the
// trading loop or the composition root calls it, so an overlay starts with
// no event windows until a caller sets them.
func (o *Overlay) SetEvents(events []Event) {
	o.events = events
}

// Enhance applies the overlay to a signal. Applying Enhance to an already
// enhanced signal is idempotent: the multiplier and block decision are
// derived solely from the underlying Signal and the overlay's own state,
// never from prior overlay output.
func (o *Overlay) Enhance(signal types.Signal, now time.Time) types.EnhancedSignal {
	enhanced := types.EnhancedSignal{Signal: signal, Confidence: signal.Confidence, SizeMultiplier: 1.0, ConfidenceMultiplier: 1.0}

	if blocked, reason := o.blockedByCriticalEvent(signal, now); blocked {
		enhanced.Blocked = true
		enhanced.BlockReason = reason
		enhanced.SizeMultiplier = 0
		return enhanced
	}

	enhanced.SizeMultiplier = o.sizeMultiplierFor(signal.Confidence)

	confMultiplier := o.confidenceAdjustmentMultiplier(signal.Confidence)
	enhanced.ConfidenceMultiplier = confMultiplier
	enhanced.Confidence = utils.ClampFloat(signal.Confidence*confMultiplier, 0, 1)

	if signal.Confidence < o.config.ConfidenceFloor {
		enhanced.Warnings = append(enhanced.Warnings, "confidence below advisory floor")
	}
	return enhanced
}

// EnhanceAgain re-runs Enhance on an already-enhanced signal's underlying
// Signal, demonstrating and preserving the overlay's idempotence law.
func (o *Overlay) EnhanceAgain(enhanced types.EnhancedSignal, now time.Time) types.EnhancedSignal {
	return o.Enhance(enhanced.Signal, now)
}

// sizeMultiplierFor maps confidence to a bounded position-size multiplier.
// Confidence at or above the floor gets the full ceiling bonus linearly
// scaled to 1.0 at the floor; confidence below the floor is scaled down
// toward the configured minimum. Clamped to [SizeMultiplierMin, SizeMultiplierMax].
func (o *Overlay) sizeMultiplierFor(confidence float64) float64 {
	cfg := o.config
	if confidence >= cfg.ConfidenceFloor {
		span := 1 - cfg.ConfidenceFloor
		if span <= 0 {
			return 1 + cfg.ConfidenceCeiling
		}
		progress := (confidence - cfg.ConfidenceFloor) / span
		multiplier := 1 + progress*cfg.ConfidenceCeiling
		return utils.ClampFloat(multiplier, cfg.SizeMultiplierMin, cfg.SizeMultiplierMax)
	}
	progress := confidence / cfg.ConfidenceFloor
	multiplier := cfg.SizeMultiplierMin + progress*(1-cfg.SizeMultiplierMin)
	return utils.ClampFloat(multiplier, cfg.SizeMultiplierMin, cfg.SizeMultiplierMax)
}

// confidenceAdjustmentMultiplier maps raw confidence linearly onto
// [ConfidenceFloor, 1+ConfidenceCeiling] and is distinct from the
// position-size multiplier above: it adjusts the confidence value itself
// (enhanced.confidence = clamp(signal.confidence*multiplier, 0, 1)) rather
// than scaling the order's volume.
func (o *Overlay) confidenceAdjustmentMultiplier(confidence float64) float64 {
	cfg := o.config
	lower := cfg.ConfidenceFloor
	upper := 1 + cfg.ConfidenceCeiling
	multiplier := lower + confidence*(upper-lower)
	return utils.ClampFloat(multiplier, lower, upper)
}

func (o *Overlay) blockedByCriticalEvent(signal types.Signal, now time.Time) (bool, string) {
	for _, event := range o.events {
		if !isCritical(o.config.CriticalEvents, event.Name) {
			continue
		}
		if (now.Equal(event.Start) || now.After(event.Start)) && now.Before(event.End) {
			return true, "critical event window: " + event.Name
		}
	}
	return false, ""
}

func isCritical(critical []string, name string) bool {
	for _, c := range critical {
		if c == name {
			return true
		}
	}
	return false
}
