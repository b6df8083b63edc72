package engine

import (
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/theatresync/internal/ordering"
)

// markScopes adds session scopes to the density watch. With a zero grace
// they are checked at once; otherwise one check is armed for the whole
// batch. Called only from Run.
func (e *Engine) markScopes(scopes []string) {
	if len(scopes) == 0 {
		return
	}
	for _, s := range scopes {
		e.dirty[s] = struct{}{}
	}
	if e.grace <= 0 {
		e.checkDensity()
		return
	}
	if e.densityArmed {
		return
	}
	e.densityArmed = true
	time.AfterFunc(e.grace, func() {
		e.queue.Enqueue(Event{Type: EventTypeDensityCheck})
	})
}

// checkDensity verifies every watched scope and requests a resync if any
// is still not dense. Called only from Run.
func (e *Engine) checkDensity() {
	if len(e.dirty) == 0 {
		return
	}
	scopes := make([]string, 0, len(e.dirty))
	for s := range e.dirty {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)
	clear(e.dirty)

	var broken []string
	for _, s := range scopes {
		if !ordering.Dense(e.store.SessionScope(s)) {
			broken = append(broken, s)
		}
	}
	if len(broken) == 0 {
		return
	}
	slog.Warn("session order not dense", "sessions", broken)
	e.startResync(ReasonDensity)
}

// CheckScopes queues a density check of the given session scopes. Used by
// the command layer after a rollback.
func (e *Engine) CheckScopes(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	task := func() {
		for _, s := range scopes {
			e.dirty[s] = struct{}{}
		}
		e.checkDensity()
	}
	return e.queue.Enqueue(Event{Type: EventTypeTask, Task: task, Done: make(chan struct{})})
}
