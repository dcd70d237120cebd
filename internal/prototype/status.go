package prototype

import "fmt"

// Status is the prototype-level build state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusBuilding},
	StatusBuilding: {StatusSuccess, StatusFailed},
	StatusSuccess:  {StatusBuilding},
	StatusFailed:   {StatusBuilding},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError is returned by the store when a status change is illegal.
type TransitionError struct {
	PrototypeID string
	From        Status
	To          Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("prototype %s: illegal status transition %s -> %s", e.PrototypeID, e.From, e.To)
}

// CheckTransition returns a *TransitionError when from -> to is illegal.
func CheckTransition(id string, from, to Status) error {
	if from.CanTransition(to) {
		return nil
	}
	return &TransitionError{PrototypeID: id, From: from, To: to}
}
