// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// ErrUnknownEventType is returned by handlers for event types they do not
// relay.
var ErrUnknownEventType = errors.New("unknown event type")

// UnknownEvent wraps ErrUnknownEventType with the offending type.
func UnknownEvent(evt Event) error {
	return fmt.Errorf("%w %q", ErrUnknownEventType, evt.Type())
}

// Handler processes one event taken off a destination queue.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Observer receives per-destination event counts. Queue depth is read
// with Pending instead.
type Observer interface {
	EventEnqueued(target string, evt Event)
	EventProcessed(target string, evt Event)
	EventFailed(target string, evt Event, err error)
}

// AcceptPredicate decides whether a destination relays a given event type.
type AcceptPredicate func(Type) bool

// AcceptTypes returns a predicate matching exactly the given types.
func AcceptTypes(types ...Type) AcceptPredicate {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(t Type) bool {
		_, ok := set[t]
		return ok
	}
}

// Destination is a Target backed by a private queue and a single worker.
type Destination struct {
	name     string
	accept   AcceptPredicate
	queue    *Queue[Event]
	handler  Handler
	log      zerolog.Logger
	observer Observer
}

var _ Target = (*Destination)(nil)

// NewDestination creates a destination. The logger must not carry a hook
// that dispatches events.
func NewDestination(name string, accept AcceptPredicate, handler Handler, log zerolog.Logger) *Destination {
	return &Destination{
		name:    name,
		accept:  accept,
		queue:   NewQueue[Event](),
		handler: handler,
		log:     log.With().Str("component", "destination").Str("target", name).Logger(),
	}
}

// SetObserver installs a statistics observer. It must be called before Run.
func (d *Destination) SetObserver(obs Observer) {
	d.observer = obs
}

func (d *Destination) Name() string {
	return d.name
}

func (d *Destination) Accept(evt Event) bool {
	return d.accept(evt.Type())
}

func (d *Destination) Enqueue(evt Event) error {
	d.queue.Push(evt)
	if d.observer != nil {
		d.observer.EventEnqueued(d.name, evt)
	}
	return nil
}

// Pending returns the number of queued events.
func (d *Destination) Pending() int {
	return d.queue.Len()
}

// Run drains the queue until ctx is cancelled. A failing event is logged and
// dropped.
func (d *Destination) Run(ctx context.Context) error {
	d.log.Debug().Msg("Destination worker started")
	for {
		evt, err := d.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if err = d.process(ctx, evt); err != nil {
			d.log.Error().Err(err).
				Str("event_type", string(evt.Type())).
				Str("source", evt.Source).
				Msg("Failed to process event")
			if d.observer != nil {
				d.observer.EventFailed(d.name, evt, err)
			}
			continue
		}
		if d.observer != nil {
			d.observer.EventProcessed(d.name, evt)
		}
	}
}

func (d *Destination) process(ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling event: %v\n%s", r, debug.Stack())
		}
	}()
	return d.handler.HandleEvent(ctx, evt)
}
