// Package blackboard is the process-wide typed publish/subscribe event bus
// shared between the wave executor, scheduler, and replan controller: a Bus
// of Publish/Register, Subscriber.HandleEvent, and an idempotent
// Subscription, carrying the closed runtime event family with a monotonic
// per-bus sequence number.
package blackboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// EventType is the closed family of runtime events the blackboard carries.
type EventType string

const (
	EventAgentTaskStarted   EventType = "agent.task.started"
	EventAgentTaskProgress  EventType = "agent.task.progress"
	EventAgentTaskCompleted EventType = "agent.task.completed"
	EventAgentTaskBlocked   EventType = "agent.task.blocked"
	EventWaveStarted        EventType = "wave.started"
	EventWaveCompleted      EventType = "wave.completed"
	EventPlanReplanned      EventType = "plan.replanned"
)

type (
	// Event is the interface every concrete blackboard event implements.
	// Subscribers type-switch on the concrete type to read event-specific
	// fields; Type/Seq/Timestamp/AgentID/TaskID are always available.
	Event interface {
		Type() EventType
		Seq() uint64
		Timestamp() time.Time
		AgentID() string
		TaskID() string
	}

	// baseEvent is embedded by every concrete event and satisfies the
	// common accessors; the bus stamps Seq and Timestamp at publish time.
	baseEvent struct {
		eventType EventType
		seq       uint64
		ts        time.Time
		agentID   string
		taskID    string
	}
)

func (b baseEvent) Type() EventType      { return b.eventType }
func (b baseEvent) Seq() uint64          { return b.seq }
func (b baseEvent) Timestamp() time.Time { return b.ts }
func (b baseEvent) AgentID() string      { return b.agentID }
func (b baseEvent) TaskID() string       { return b.taskID }

// TaskStarted fires when a task begins execution within a wave.
type TaskStarted struct {
	baseEvent
	WaveID string
}

// TaskProgress fires for incremental status updates while a task runs
// (for example, streamed text deltas or tool-call lifecycle markers).
type TaskProgress struct {
	baseEvent
	WaveID string
	Detail string
}

// TaskCompleted fires once a task reaches a terminal, non-blocked status.
type TaskCompleted struct {
	baseEvent
	WaveID  string
	Success bool
}

// TaskBlocked fires when a task is skipped because a dependency failed,
// the plan was cancelled, or another non-completion terminal condition was
// reached.
type TaskBlocked struct {
	baseEvent
	WaveID string
	Reason string
}

// WaveStarted fires when the executor begins draining a wave.
type WaveStarted struct {
	baseEvent
	WaveID string
}

// WaveCompleted fires once every task in a wave has reached a terminal
// status and the merge step for that wave has finished.
type WaveCompleted struct {
	baseEvent
	WaveID string
}

// PlanReplanned fires when the replan controller issues a new plan
// revision following a failing reflection.
type PlanReplanned struct {
	baseEvent
	PreviousPlanID string
	NewPlanID      string
	Depth          int
}

type (
	// Bus publishes runtime events to registered subscribers in a
	// synchronous fan-out. Delivery stops at the first subscriber error,
	// so a critical subscriber (event-log persistence) can halt
	// propagation.
	Bus interface {
		Publish(ctx context.Context, event Event) error
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration; Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		seq         atomic.Uint64
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs an in-memory event bus, ready for immediate use.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Publish delivers event to every currently registered subscriber, after
// stamping it with the bus's monotonic sequence number and the current
// wall-clock time. The subscriber snapshot is taken
// before iteration, so concurrent Register/Close calls never affect the
// delivery in progress.
func (b *bus) Publish(ctx context.Context, event Event) error {
	stamped := stamp(event, b.seq.Add(1))

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, stamped); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus and returns a Subscription that can be
// closed to unregister it.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("blackboard: subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}

// stamp assigns seq and the current timestamp to a freshly published
// event. Concrete event constructors leave these zero; stamp is the only
// place they are set, keeping "when was this actually published" a bus
// concern rather than a publisher concern.
func stamp(event Event, seq uint64) Event {
	switch e := event.(type) {
	case TaskStarted:
		e.seq, e.ts = seq, time.Now()
		return e
	case TaskProgress:
		e.seq, e.ts = seq, time.Now()
		return e
	case TaskCompleted:
		e.seq, e.ts = seq, time.Now()
		return e
	case TaskBlocked:
		e.seq, e.ts = seq, time.Now()
		return e
	case WaveStarted:
		e.seq, e.ts = seq, time.Now()
		return e
	case WaveCompleted:
		e.seq, e.ts = seq, time.Now()
		return e
	case PlanReplanned:
		e.seq, e.ts = seq, time.Now()
		return e
	default:
		return event
	}
}

// NewBaseEvent constructs the embeddable baseEvent for a concrete event
// type. agentID/taskID may be empty for events with no natural task
// association (wave-level and plan-level events).
func NewBaseEvent(eventType EventType, agentID, taskID string) baseEvent {
	return baseEvent{eventType: eventType, agentID: agentID, taskID: taskID}
}

// The constructors below build each concrete event for callers outside this
// package (the wave executor, the replan controller): baseEvent's fields are
// unexported, so a keyed composite literal naming it can only appear inside
// package blackboard itself.

// NewTaskStarted builds a TaskStarted event for agentID's taskID within waveID.
func NewTaskStarted(waveID, agentID, taskID string) TaskStarted {
	return TaskStarted{baseEvent: NewBaseEvent(EventAgentTaskStarted, agentID, taskID), WaveID: waveID}
}

// NewTaskProgress builds a TaskProgress event carrying a free-form detail string.
func NewTaskProgress(waveID, agentID, taskID, detail string) TaskProgress {
	return TaskProgress{baseEvent: NewBaseEvent(EventAgentTaskProgress, agentID, taskID), WaveID: waveID, Detail: detail}
}

// NewTaskCompleted builds a TaskCompleted event.
func NewTaskCompleted(waveID, agentID, taskID string, success bool) TaskCompleted {
	return TaskCompleted{baseEvent: NewBaseEvent(EventAgentTaskCompleted, agentID, taskID), WaveID: waveID, Success: success}
}

// NewTaskBlocked builds a TaskBlocked event carrying the reason the task was
// skipped (for example, a failed dependency or plan-wide cancellation).
func NewTaskBlocked(waveID, agentID, taskID, reason string) TaskBlocked {
	return TaskBlocked{baseEvent: NewBaseEvent(EventAgentTaskBlocked, agentID, taskID), WaveID: waveID, Reason: reason}
}

// NewWaveStarted builds a WaveStarted event.
func NewWaveStarted(waveID string) WaveStarted {
	return WaveStarted{baseEvent: NewBaseEvent(EventWaveStarted, "", ""), WaveID: waveID}
}

// NewWaveCompleted builds a WaveCompleted event.
func NewWaveCompleted(waveID string) WaveCompleted {
	return WaveCompleted{baseEvent: NewBaseEvent(EventWaveCompleted, "", ""), WaveID: waveID}
}

// NewPlanReplanned builds a PlanReplanned event recording the previous and
// new plan revisions and the replan depth reached.
func NewPlanReplanned(previousPlanID, newPlanID string, depth int) PlanReplanned {
	return PlanReplanned{
		baseEvent:      NewBaseEvent(EventPlanReplanned, "", ""),
		PreviousPlanID: previousPlanID,
		NewPlanID:      newPlanID,
		Depth:          depth,
	}
}
