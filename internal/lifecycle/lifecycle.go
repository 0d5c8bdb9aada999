// Package lifecycle filters and dispatches the decisions the exit
// coordinator reaches: policy-gated adoption of externally opened
// positions, and the Modify/PartialClose/FullClose commands the coordinator
// hands off to the execution layer. Grounded on the reference's
// order_manager.go command-dispatch shape in internal/execution, adapted
// from "manage every broker order this process submitted" to "manage every
// broker position this process is allowed to manage under the adoption
// policy."
package lifecycle

import (
	"strings"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
)

// AdoptionFilter decides whether an externally opened position (one whose
// ClientTag is the zero UUID, meaning this engine never submitted it)
// should be brought under management.
type AdoptionFilter struct {
	Policy       types.AdoptionPolicy
	TaggedPrefix string // consulted only under AdoptionAcceptTaggedPrefix
}

// NewAdoptionFilter builds a filter for the given policy.
func NewAdoptionFilter(policy types.AdoptionPolicy, taggedPrefix string) AdoptionFilter {
	return AdoptionFilter{Policy: policy, TaggedPrefix: taggedPrefix}
}

// Admit reports whether pos should be adopted into managed trading. A
// position carrying this engine's own ClientTag is always already owned
// and bypasses the filter entirely; Admit only governs positions the
// tracker found at reconciliation time with no engine provenance.
func (f AdoptionFilter) Admit(pos types.Position) bool {
	if pos.ClientTag != uuid.Nil {
		return true
	}
	switch f.Policy {
	case types.AdoptionAcceptAll:
		return true
	case types.AdoptionAcceptTaggedPrefix:
		return f.TaggedPrefix != "" && strings.HasPrefix(pos.Ticket, f.TaggedPrefix)
	case types.AdoptionRejectAll:
		return false
	default:
		return false
	}
}

// CommandKind is the kind of effect an exit decision or adoption verdict
// resolves to.
type CommandKind string

const (
	CommandNone         CommandKind = "none"
	CommandModifyStop   CommandKind = "modify_stop"
	CommandPartialClose CommandKind = "partial_close"
	CommandFullClose    CommandKind = "full_close"
	CommandDisown       CommandKind = "disown" // rejected by adoption policy; tracker stops managing it
)

// Command carries everything the execution layer needs to carry out a
// lifecycle decision against one ticket.
type Command struct {
	Kind     CommandKind
	Ticket   string
	Fraction float64 // for CommandPartialClose, in (0,1]
	NewSL    *types.Position
	Reason   string
}

// FromExitDecision converts an exit coordinator verdict into the command
// the execution layer must issue for a position.
func FromExitDecision(ticket string, d types.ExitDecision) Command {
	switch d.Kind {
	case types.ExitHold:
		return Command{Kind: CommandNone, Ticket: ticket, Reason: d.ReasonCode}
	case types.ExitScaleOut:
		frac := d.Fraction
		if frac <= 0 {
			frac = 0.5
		}
		return Command{Kind: CommandPartialClose, Ticket: ticket, Fraction: frac, Reason: d.ReasonCode}
	case types.ExitClose, types.ExitEmergency:
		return Command{Kind: CommandFullClose, Ticket: ticket, Fraction: 1, Reason: d.ReasonCode}
	default:
		return Command{Kind: CommandNone, Ticket: ticket, Reason: d.ReasonCode}
	}
}
