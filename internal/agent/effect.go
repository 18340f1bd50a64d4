package agent

import (
	"context"
	"errors"

	"github.com/iTrooz/offline-cache-agent/internal/cache"
)

// Task is work the host must keep the agent alive for.
type Task func(ctx context.Context) error

// Source tells how a response was produced.
type Source string

const (
	SourceNone     Source = ""
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Effect is the outcome of handling one event.
//
// A fetch effect either passes the request through, responds with Response,
// or fails with Err. Lifecycle and notification effects only carry WaitUntil.
type Effect struct {
	Passthrough bool
	Response    *cache.Response
	Source      Source
	Err         error
	WaitUntil   []Task
}

// Settle runs the WaitUntil tasks in order and joins their errors.
// Every task runs even when an earlier one fails.
func (e Effect) Settle(ctx context.Context) error {
	var errs []error
	for _, task := range e.WaitUntil {
		if err := task(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func passthrough() Effect {
	return Effect{Passthrough: true}
}
