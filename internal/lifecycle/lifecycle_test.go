package lifecycle_test

import (
	"testing"

	"github.com/atlas-desktop/autopilot-engine/internal/lifecycle"
	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
)

func TestAdmitOwnPositionBypassesPolicy(t *testing.T) {
	f := lifecycle.NewAdoptionFilter(types.AdoptionRejectAll, "")
	pos := types.Position{ClientTag: uuid.New(), Ticket: "T1"}
	if !f.Admit(pos) {
		t.Fatal("expected a position carrying this engine's own tag to always be admitted")
	}
}

func TestAdmitRejectAllRejectsExternalPosition(t *testing.T) {
	f := lifecycle.NewAdoptionFilter(types.AdoptionRejectAll, "")
	pos := types.Position{ClientTag: uuid.Nil, Ticket: "EXTERNAL-1"}
	if f.Admit(pos) {
		t.Fatal("expected reject_all to reject an externally opened position")
	}
}

func TestAdmitAcceptTaggedPrefix(t *testing.T) {
	f := lifecycle.NewAdoptionFilter(types.AdoptionAcceptTaggedPrefix, "autopilot-")
	accepted := types.Position{ClientTag: uuid.Nil, Ticket: "autopilot-123"}
	rejected := types.Position{ClientTag: uuid.Nil, Ticket: "manual-456"}

	if !f.Admit(accepted) {
		t.Error("expected ticket with matching prefix to be admitted")
	}
	if f.Admit(rejected) {
		t.Error("expected ticket without matching prefix to be rejected")
	}
}

func TestAdmitAcceptAll(t *testing.T) {
	f := lifecycle.NewAdoptionFilter(types.AdoptionAcceptAll, "")
	pos := types.Position{ClientTag: uuid.Nil, Ticket: "ANY"}
	if !f.Admit(pos) {
		t.Fatal("expected accept_all to admit any externally opened position")
	}
}

func TestFromExitDecisionMapsEveryKind(t *testing.T) {
	cases := []struct {
		decision types.ExitDecision
		wantKind lifecycle.CommandKind
	}{
		{types.ExitDecision{Kind: types.ExitHold, ReasonCode: "no_trigger"}, lifecycle.CommandNone},
		{types.ExitDecision{Kind: types.ExitScaleOut, Fraction: 0.4, ReasonCode: "confluence"}, lifecycle.CommandPartialClose},
		{types.ExitDecision{Kind: types.ExitClose, ReasonCode: "hard_target"}, lifecycle.CommandFullClose},
		{types.ExitDecision{Kind: types.ExitEmergency, ReasonCode: "survival"}, lifecycle.CommandFullClose},
	}

	for _, c := range cases {
		cmd := lifecycle.FromExitDecision("T1", c.decision)
		if cmd.Kind != c.wantKind {
			t.Errorf("decision %v: expected command kind %s, got %s", c.decision.Kind, c.wantKind, cmd.Kind)
		}
	}
}

func TestFromExitDecisionScaleOutDefaultsFraction(t *testing.T) {
	cmd := lifecycle.FromExitDecision("T1", types.ExitDecision{Kind: types.ExitScaleOut, Fraction: 0, ReasonCode: "x"})
	if cmd.Fraction != 0.5 {
		t.Errorf("expected default scale-out fraction of 0.5, got %f", cmd.Fraction)
	}
}
