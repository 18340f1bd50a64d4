package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registration is the host side of the lifecycle. It decides which agent
// generation controls traffic and implements the Host control API.
type Registration struct {
	// serializes Register/Promote so only one agent installs or activates at a time
	lifecycle sync.Mutex

	mutex       sync.Mutex
	active      *Agent
	waiting     *Agent
	installing  *Agent
	controller  *Agent
	skipWaiting bool
	windows     []string
}

// Status is a snapshot of the registration state.
type Status struct {
	Active      string   `json:"active,omitempty"`
	Waiting     string   `json:"waiting,omitempty"`
	Installing  string   `json:"installing,omitempty"`
	Controlling bool     `json:"controlling"`
	Windows     []string `json:"windows,omitempty"`
}

// NewRegistration creates an empty registration
func NewRegistration() *Registration {
	return &Registration{}
}

// Register installs a, then activates it right away when it asked to skip
// waiting or when nothing is active yet. Otherwise a is parked as waiting.
// A failed install leaves the current active agent in control.
func (r *Registration) Register(ctx context.Context, a *Agent) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mutex.Lock()
	r.installing = a
	r.skipWaiting = false
	r.mutex.Unlock()

	err := a.Install().Settle(ctx)

	r.mutex.Lock()
	r.installing = nil
	skip := r.skipWaiting
	hasActive := r.active != nil
	r.mutex.Unlock()

	if err != nil {
		logrus.Errorf("Install of %s failed, keeping previous generation: %v", a.Generation(), err)
		return err
	}

	if hasActive && !skip {
		r.mutex.Lock()
		r.waiting = a
		r.mutex.Unlock()
		logrus.Infof("Generation %s installed, waiting for activation", a.Generation())
		return nil
	}

	return r.activate(ctx, a)
}

// Promote activates the waiting agent, if any.
func (r *Registration) Promote(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mutex.Lock()
	waiting := r.waiting
	r.mutex.Unlock()

	if waiting == nil {
		return fmt.Errorf("no waiting generation")
	}
	return r.activate(ctx, waiting)
}

// Resume makes a the controlling agent without running its lifecycle,
// as when a host restarts with a generation that was already activated.
func (r *Registration) Resume(a *Agent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.active = a
	r.controller = a
	logrus.Infof("Resumed cache generation %s", a.Generation())
}

func (r *Registration) activate(ctx context.Context, a *Agent) error {
	r.mutex.Lock()
	if r.waiting == a {
		r.waiting = nil
	}
	r.active = a
	r.mutex.Unlock()

	// Activation failures leave the agent active; stale stores are retried next time
	if err := a.Activate().Settle(ctx); err != nil {
		logrus.Errorf("Activation of %s failed: %v", a.Generation(), err)
		return err
	}
	return nil
}

// Active returns the activated agent, or nil.
func (r *Registration) Active() *Agent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.active
}

// Controller returns the agent that intercepts client requests: the last
// agent that claimed clients. A newly activated agent takes over only once
// it claims.
func (r *Registration) Controller() (*Agent, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.controller, r.controller != nil
}

// Status returns a snapshot of the registration.
func (r *Registration) Status() Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var s Status
	if r.active != nil {
		s.Active = r.active.Generation()
	}
	if r.waiting != nil {
		s.Waiting = r.waiting.Generation()
	}
	if r.installing != nil {
		s.Installing = r.installing.Generation()
	}
	s.Controlling = r.active != nil && r.controller == r.active
	s.Windows = append([]string(nil), r.windows...)
	return s
}

func (r *Registration) SkipWaiting(_ context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.skipWaiting = true
	return nil
}

func (r *Registration) Claim(_ context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.controller = r.active
	return nil
}

// OpenWindow records the path a client window was opened on.
func (r *Registration) OpenWindow(_ context.Context, path string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	logrus.Infof("Opening window on %s", path)
	r.windows = append(r.windows, path)
	return nil
}
