package entity

import "fmt"

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	From Status
	To   Status
}

// DefaultTransitions are the lifecycle moves the registry performs. The empty
// status is a record that has never been merged.
var DefaultTransitions = []TransitionRule{
	{From: "", To: StatusActive},
	{From: StatusActive, To: StatusArchived},
	{From: StatusArchived, To: StatusActive},
}

// LifecycleMachine validates entity status transitions.
type LifecycleMachine struct {
	transitions []TransitionRule
}

// NewLifecycleMachine creates a machine with the default rules.
func NewLifecycleMachine() *LifecycleMachine {
	return &LifecycleMachine{transitions: DefaultTransitions}
}

// ValidateTransition returns nil if from->to is allowed, a *TransitionError otherwise.
// Staying in the same state is always allowed.
func (m *LifecycleMachine) ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}
	return &TransitionError{
		Code:    "LIFECYCLE_INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %q to %q", from, to),
	}
}

// Transition moves e to the target status, or leaves it untouched and returns
// the validation error.
func (m *LifecycleMachine) Transition(e *Entity, to Status) error {
	if err := m.ValidateTransition(e.Status, to); err != nil {
		return err
	}
	e.Status = to
	return nil
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string `json:"code"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Message string `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
