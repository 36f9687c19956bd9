package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"radar/internal/model"
)

// SignalTable is the table the presence feed carries events for
const SignalTable = "presence_signals"

// Op is the kind of mutation a feed event reports
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

var (
	ErrMalformedEvent = errors.New("malformed feed event")
	ErrOtherTable     = errors.New("feed event for another table")
)

// Event is the uniform shape every feed message is normalized into.
// Record is nil for deletes that only carry the id.
type Event struct {
	Op     Op                    `json:"op"`
	Table  string                `json:"table,omitempty"`
	ID     string                `json:"id"`
	Record *model.PresenceSignal `json:"record,omitempty"`
}

// wireEvent accepts both the canonical {op,id,record} shape and the
// realtime {eventType|type,table,new,old} shape.
type wireEvent struct {
	Op        string                `json:"op"`
	EventType string                `json:"eventType"`
	Type      string                `json:"type"`
	Table     string                `json:"table"`
	ID        string                `json:"id"`
	Record    *model.PresenceSignal `json:"record"`
	New       *model.PresenceSignal `json:"new"`
	Old       *model.PresenceSignal `json:"old"`
}

// Encode serializes an event in the canonical shape
func Encode(ev Event) ([]byte, error) {
	if ev.Table == "" {
		ev.Table = SignalTable
	}
	return json.Marshal(ev)
}

// Normalize parses a raw feed message into an Event
func Normalize(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if w.Table != "" && w.Table != SignalTable {
		return Event{}, ErrOtherTable
	}

	kind := w.Op
	if kind == "" {
		kind = w.EventType
	}
	if kind == "" {
		kind = w.Type
	}

	ev := Event{Op: Op(strings.ToUpper(kind)), Table: SignalTable}

	switch ev.Op {
	case OpInsert, OpUpdate:
		ev.Record = w.Record
		if ev.Record == nil {
			ev.Record = w.New
		}
	case OpDelete:
		ev.Record = w.Record
		if ev.Record == nil {
			ev.Record = w.Old
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown op %q", ErrMalformedEvent, kind)
	}

	ev.ID = w.ID
	if ev.ID == "" && ev.Record != nil {
		ev.ID = ev.Record.ID
	}
	if ev.ID == "" {
		return Event{}, fmt.Errorf("%w: missing record id", ErrMalformedEvent)
	}
	if ev.Record != nil && ev.Record.ID == "" {
		ev.Record.ID = ev.ID
	}
	return ev, nil
}
