// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Target receives events from a Dispatcher. Accept must be cheap and
// Enqueue must not block on downstream processing.
type Target interface {
	Name() string
	Accept(evt Event) bool
	Enqueue(evt Event) error
}

// DispatchObserver is notified about every dispatched event.
type DispatchObserver interface {
	EventDispatched(evt Event)
}

// Dispatcher fans events out to registered targets in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	targets  []Target
	log      zerolog.Logger
	observer DispatchObserver
}

// NewDispatcher creates an empty dispatcher. The logger must not carry a
// hook that dispatches events back into this dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log.With().Str("component", "dispatcher").Logger()}
}

// SetObserver installs an observer. It must be called before dispatching.
func (d *Dispatcher) SetObserver(obs DispatchObserver) {
	d.observer = obs
}

// RegisterTarget appends a target to the registry.
func (d *Dispatcher) RegisterTarget(t Target) {
	d.mu.Lock()
	d.targets = append(d.targets, t)
	d.mu.Unlock()
	d.log.Debug().Str("target", t.Name()).Msg("Registered event target")
}

// Targets returns a snapshot of the registered targets.
func (d *Dispatcher) Targets() []Target {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Target(nil), d.targets...)
}

// Dispatch tags evt with source and offers it to every target. A failing
// target is logged and skipped.
func (d *Dispatcher) Dispatch(source string, evt Event) {
	evt = evt.WithSource(source)
	if d.observer != nil {
		d.observer.EventDispatched(evt)
	}
	d.mu.RLock()
	targets := d.targets
	d.mu.RUnlock()
	for _, t := range targets {
		if err := d.offer(t, evt); err != nil {
			d.log.Error().Err(err).
				Str("target", targetName(t)).
				Str("event_type", string(evt.Type())).
				Str("source", source).
				Msg("Failed to deliver event to target")
		}
	}
}

func (d *Dispatcher) offer(t Target, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !t.Accept(evt) {
		return nil
	}
	if err = t.Enqueue(evt); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

func targetName(t Target) (name string) {
	defer func() {
		if recover() != nil {
			name = fmt.Sprintf("%T", t)
		}
	}()
	return t.Name()
}
