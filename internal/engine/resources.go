package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Resources releases what a session acquired, in reverse order. Tracking a
// name again releases the resource it superseded first.
type Resources struct {
	mu    sync.Mutex
	order []string
	items map[string]func() error
}

func NewResources() *Resources {
	return &Resources{items: make(map[string]func() error)}
}

// Track registers release under name.
func (r *Resources) Track(name string, release func() error) error {
	r.mu.Lock()
	old, exists := r.items[name]
	r.items[name] = release
	if !exists {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()

	if exists && old != nil {
		if err := old(); err != nil {
			return fmt.Errorf("release superseded %s: %w", name, err)
		}
	}
	return nil
}

// Release frees one resource now.
func (r *Resources) Release(name string) error {
	r.mu.Lock()
	release, ok := r.items[name]
	delete(r.items, name)
	r.mu.Unlock()
	if !ok || release == nil {
		return nil
	}
	return release()
}

// Tracked reports whether name is still held.
func (r *Resources) Tracked(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[name]
	return ok
}

// ReleaseAll frees everything still tracked, newest first.
func (r *Resources) ReleaseAll() error {
	r.mu.Lock()
	order := r.order
	items := r.items
	r.order = nil
	r.items = make(map[string]func() error)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		release, ok := items[order[i]]
		delete(items, order[i])
		if !ok || release == nil {
			continue
		}
		if err := release(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Resources.ReleaseAll",
				"resource": order[i],
			}).WithError(err).Warn("Release failed")
			errs = append(errs, fmt.Errorf("%s: %w", order[i], err))
		}
	}
	return errors.Join(errs...)
}
