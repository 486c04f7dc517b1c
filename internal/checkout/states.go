package checkout

// State is a checkout session state.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateValidationFailed State = "validation_failed"
	StateNoPaymentNeeded  State = "no_payment_needed"
	StateSessionCreating  State = "session_creating"
	StateSessionFailed    State = "session_failed"
	StateSuperseded       State = "superseded"
	StateAwaitingPayment  State = "awaiting_payment"
	StateVerifying        State = "verifying"
	StatePaymentFailed    State = "payment_failed"
	StateAbandoned        State = "abandoned"
	StateCommitting       State = "committing"
	StateCommitFailed     State = "commit_failed"
	StateCompleted        State = "completed"
)

var transitions = map[State][]State{
	StateIdle:            {StateValidating},
	StateValidating:      {StateValidationFailed, StateNoPaymentNeeded, StateSessionCreating},
	StateNoPaymentNeeded: {StateCommitting},
	StateSessionCreating: {StateAwaitingPayment, StateSessionFailed},
	StateSessionFailed:   {StateSuperseded},
	StateAwaitingPayment: {StateVerifying, StateAbandoned},
	StateVerifying:       {StateCommitting, StatePaymentFailed},
	StateCommitting:      {StateCompleted, StateCommitFailed},
	// the only re-entry: a paid checkout whose order was not confirmed
	StateCommitFailed: {StateCommitting},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	switch s {
	case StateValidationFailed, StateSuperseded, StatePaymentFailed, StateAbandoned, StateCompleted:
		return true
	}
	return false
}
