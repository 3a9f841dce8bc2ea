// Package notify fans committed decision events out to live subscribers,
// other service instances and chat.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Message is one committed change, as read from the notification outbox.
type Message struct {
	Topic         string          `json:"topic"`
	ApplicationID string          `json:"application_id"`
	RefID         string          `json:"ref_id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Notifier delivers a message somewhere. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Multi delivers to every notifier concurrently and joins their errors.
// A failing notifier does not stop delivery to the others.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, msg Message) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		g.Go(func() error {
			if err := n.Notify(ctx, msg); err != nil {
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
