// Package inventory defines the lifecycle of a physical book instance.
package inventory

import (
	"fmt"
	"slices"

	"libracirc/internal/domainerr"
)

// Status is the circulation state of one physical copy.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusOnLoan     Status = "on_loan"
	StatusReserved   Status = "reserved"
	StatusInRepair   Status = "in_repair"
	StatusLost       Status = "lost"
	StatusWrittenOff Status = "written_off"
)

// Statuses lists every state in declaration order.
var Statuses = []Status{
	StatusAvailable,
	StatusOnLoan,
	StatusReserved,
	StatusInRepair,
	StatusLost,
	StatusWrittenOff,
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Event names a transition of the state machine.
type Event string

const (
	EventIssue          Event = "issue"
	EventReturn         Event = "return"
	EventReserve        Event = "reserve"
	EventRelease        Event = "release"
	EventSendToRepair   Event = "send_to_repair"
	EventCompleteRepair Event = "complete_repair"
	EventMarkLost       Event = "mark_lost"
	EventMarkFound      Event = "mark_found"
	EventWriteOff       Event = "write_off"
)

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventIssue:          {from: []Status{StatusAvailable}, to: StatusOnLoan},
	EventReturn:         {from: []Status{StatusOnLoan}, to: StatusAvailable},
	EventReserve:        {from: []Status{StatusAvailable}, to: StatusReserved},
	EventRelease:        {from: []Status{StatusReserved}, to: StatusAvailable},
	EventSendToRepair:   {from: []Status{StatusAvailable}, to: StatusInRepair},
	EventCompleteRepair: {from: []Status{StatusInRepair}, to: StatusAvailable},
	EventMarkLost:       {from: []Status{StatusAvailable, StatusInRepair, StatusReserved}, to: StatusLost},
	EventMarkFound:      {from: []Status{StatusLost}, to: StatusAvailable},
	EventWriteOff:       {from: []Status{StatusAvailable, StatusInRepair, StatusLost}, to: StatusWrittenOff},
}

// ParseEvent validates a transition name coming from the outside.
func ParseEvent(name string) (Event, error) {
	e := Event(name)
	if _, ok := transitions[e]; !ok {
		return "", domainerr.Constraint("unknown instance event %q", name)
	}
	return e, nil
}

// From returns the states the event may start from.
func (e Event) From() []Status {
	return slices.Clone(transitions[e].from)
}

// To returns the state the event leads to.
func (e Event) To() Status {
	return transitions[e].to
}

// Administrative reports whether the event may be requested directly.
// Issue and return only happen through loan transactions.
func (e Event) Administrative() bool {
	_, known := transitions[e]
	return known && e != EventIssue && e != EventReturn
}

// Apply returns the state reached from `from`, or a precondition violation naming `from`.
func (e Event) Apply(from Status) (Status, error) {
	t, ok := transitions[e]
	if !ok {
		return "", domainerr.Constraint("unknown instance event %q", string(e))
	}
	if !slices.Contains(t.from, from) {
		return "", fmt.Errorf("%s: %w", e, domainerr.Precondition("instance", "", string(from)))
	}
	return t.to, nil
}
