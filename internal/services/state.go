package services

import "fmt"

// State is a stage of the submission/playtest workflow.
type State string

const (
	StateDraft                State = "draft"
	StateAwaitingDetails      State = "awaiting_details"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StatePublished            State = "published"
	StatePlaytestOpen         State = "playtest_open"
	StateVotingOpen           State = "voting_open"
	StateResolved             State = "resolved"
	StateArchived             State = "archived"
)

var transitions = map[State][]State{
	StateDraft:                {StateAwaitingDetails},
	StateAwaitingDetails:      {StateAwaitingDetails, StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateAwaitingDetails, StateAwaitingConfirmation, StatePublished, StatePlaytestOpen},
	StatePlaytestOpen:         {StateVotingOpen, StateResolved},
	StateVotingOpen:           {StateVotingOpen, StateResolved, StateAwaitingDetails},
	StateResolved:             {StateArchived, StateAwaitingDetails},
	StatePublished:            {StateArchived},
}

// CanTransition reports whether the workflow allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition validates and records a state change.
func transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	workflowTransitions.WithLabelValues(string(from), string(to)).Inc()
	return to, nil
}
