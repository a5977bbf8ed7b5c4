// Package events carries document change notifications between store writers
// and live query watchers, in-process or across instances.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Op names the kind of mutation that produced a Change.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed document mutation.
//
// Match holds the string-valued top-level fields of the affected document
// (the stored state after an add or update, the last state before a delete),
// so watchers can decide relevance without a read.
type Change struct {
	Collection string            `json:"collection"`
	DocumentID string            `json:"documentId"`
	Op         Op                `json:"op"`
	Match      map[string]string `json:"match,omitempty"`
	Origin     string            `json:"origin,omitempty"`
	At         time.Time         `json:"at"`
}

// Handler processes a change. Returning an error asks transports that support
// redelivery to retry the message.
type Handler func(ctx context.Context, c Change) error

// Bus is a change-event transport.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe blocks delivering changes to handler until ctx is done or the
	// transport fails.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

var ErrClosed = errors.New("event bus closed")

// ToJSON encodes the change for transports that carry bytes.
func (c Change) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// ChangeFromJSON decodes a change and checks the fields every consumer relies on.
func ChangeFromJSON(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, err
	}
	if c.Collection == "" || c.DocumentID == "" {
		return Change{}, fmt.Errorf("change missing collection or document id")
	}
	switch c.Op {
	case OpAdd, OpUpdate, OpDelete:
	default:
		return Change{}, fmt.Errorf("unknown change op %q", c.Op)
	}
	return c, nil
}
