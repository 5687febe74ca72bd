package types

import (
	"fmt"
	"time"
)

// EventType is the closed set of record kinds carried on a stream.
type EventType uint8

const (
	EventMessage EventType = iota
	EventDelete            // tombstone: marks the key as removed
)

func (e EventType) String() string {
	switch e {
	case EventMessage:
		return "MESSAGE"
	case EventDelete:
		return "DELETE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
}

// ParseEventType maps a wire-level event name to its EventType.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "MESSAGE":
		return EventMessage, nil
	case "DELETE":
		return EventDelete, nil
	}
	return 0, fmt.Errorf("unknown event type: %q", s)
}

func (e EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

func (e *EventType) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("event type must be a JSON string: %s", data)
	}
	parsed, err := ParseEventType(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Record is one immutable unit of the stream. The offset is assigned by the
// storage engine on append; a record is never mutated afterwards.
type Record struct {
	Offset    uint64    `json:"offset,omitempty"`
	MsgKey    string    `json:"msgKey"`
	EventType EventType `json:"eventType"`
	Data      []byte    `json:"data,omitempty"` // absent for DELETE tombstones
	CreatedAt time.Time `json:"createdAt"`
}
