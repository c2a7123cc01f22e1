package blackboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	var got1, got2 []Event

	sub1, err := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error {
		got1 = append(got1, e)
		return nil
	}))
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error {
		got2 = append(got2, e)
		return nil
	}))
	require.NoError(t, err)
	defer sub2.Close()

	evt := TaskStarted{baseEvent: NewBaseEvent(EventAgentTaskStarted, "page", "t1"), WaveID: "group-1"}
	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	require.Equal(t, EventAgentTaskStarted, got1[0].Type())
	require.Equal(t, uint64(1), got1[0].Seq())
}

func TestBus_SeqIsMonotonic(t *testing.T) {
	bus := NewBus()
	var seqs []uint64
	sub, _ := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error {
		seqs = append(seqs, e.Seq())
		return nil
	}))
	defer sub.Close()

	for i := 0; i < 3; i++ {
		_ = bus.Publish(context.Background(), WaveStarted{baseEvent: NewBaseEvent(EventWaveStarted, "", "")})
	}
	require.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestBus_StopsAtFirstError(t *testing.T) {
	bus := NewBus()
	boom := errors.New("boom")
	var secondCalled bool

	sub1, _ := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error { return boom }))
	defer sub1.Close()
	sub2, _ := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error {
		secondCalled = true
		return nil
	}))
	defer sub2.Close()

	err := bus.Publish(context.Background(), WaveStarted{baseEvent: NewBaseEvent(EventWaveStarted, "", "")})
	require.ErrorIs(t, err, boom)
	// Subscriber order is map-iteration order in this implementation, so we
	// only assert that an error aborted delivery, not which subscriber ran.
	_ = secondCalled
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error { return nil }))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestBus_RegisterNilRejected(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

// (iii) Blackboard events for a given task are delivered in the order
// started -> progress* -> (completed | blocked), which is a publisher
// discipline, not a bus-enforced ordering; this test documents that the
// bus preserves publish order for a single subscriber.
func TestBus_PreservesPublishOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	var types []EventType
	sub, _ := bus.Register(SubscriberFunc(func(ctx context.Context, e Event) error {
		types = append(types, e.Type())
		return nil
	}))
	defer sub.Close()

	base := NewBaseEvent(EventAgentTaskStarted, "page", "t1")
	_ = bus.Publish(context.Background(), TaskStarted{baseEvent: base})
	_ = bus.Publish(context.Background(), TaskProgress{baseEvent: NewBaseEvent(EventAgentTaskProgress, "page", "t1")})
	_ = bus.Publish(context.Background(), TaskCompleted{baseEvent: NewBaseEvent(EventAgentTaskCompleted, "page", "t1"), Success: true})

	require.Equal(t, []EventType{EventAgentTaskStarted, EventAgentTaskProgress, EventAgentTaskCompleted}, types)
}
