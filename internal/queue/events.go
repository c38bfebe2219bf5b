// internal/queue/events.go
package queue

import (
	"time"

	"github-jira-sync/internal/model"
)

type EventKind string

const (
	EventActive    EventKind = "active"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventError     EventKind = "error"
)

// Event describes a job lifecycle transition.
type Event struct {
	Kind EventKind
	Lane model.Lane
	Job  Job
	Err  error
	// Final is set on a failed event when no attempts remain.
	Final    bool
	Duration time.Duration
}

// Listener is called synchronously from the worker that produced the event.
type Listener func(Event)

// OnEvent subscribes fn to every lane's events.
func (q *Queue) OnEvent(fn Listener) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *Queue) emit(e Event) {
	q.listenersMu.RLock()
	listeners := q.listeners
	q.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}
}
