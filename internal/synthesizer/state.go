package synthesizer

import "log"

// Phase represents the states a generation run moves through.
type Phase string

const (
	PhaseDrafting   Phase = "drafting"
	PhaseValidating Phase = "validating"
	PhaseRepairing  Phase = "repairing"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// validTransitions defines the allowed phase transitions for a generation
// run. Any transition not listed here is invalid and will be rejected.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseDrafting: {
		PhaseValidating: true,
		PhaseFailed:     true,
	},
	PhaseValidating: {
		PhaseReady:     true,
		PhaseRepairing: true,
		PhaseFailed:    true,
	},
	PhaseRepairing: {
		PhaseValidating: true,
		PhaseFailed:     true,
	},
	// Terminal states.
	PhaseReady:  {},
	PhaseFailed: {},
}

// transition validates and performs a phase change. Returns the current
// phase unchanged if the transition is invalid.
func transition(current, desired Phase) Phase {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [SYNTH] Invalid phase transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// isTerminal returns true if the phase is a final state.
func isTerminal(phase Phase) bool {
	return phase == PhaseReady || phase == PhaseFailed
}
