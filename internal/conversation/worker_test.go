package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ProcessesInboundJob(t *testing.T) {
	f := newEngineFixture(t)
	queue := NewMemoryQueue(16)
	publisher := NewPublisher(queue, nil)
	worker := NewWorker(f.engine, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	require.NoError(t, publisher.EnqueueInbound(ctx, guestMsg("c1", "What's the wifi password?")))

	require.Eventually(t, func() bool {
		return len(f.dispatcher.sent()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	sent := f.dispatcher.sent()
	assert.Contains(t, sent[0].Text, "bluewater42")
	assert.Equal(t, StateResolved, f.engine.states.Snapshot("c1"))

	cancel()
	worker.Wait()
}

func TestWorker_ProcessesBookingUpdateAndResolveJobs(t *testing.T) {
	f := newEngineFixture(t)
	queue := NewMemoryQueue(16)
	publisher := NewPublisher(queue, nil)
	worker := NewWorker(f.engine, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.engine.states.Escalate("c1")

	worker.Start(ctx)
	require.NoError(t, publisher.EnqueueBookingUpdate(ctx, BookingUpdateEvent{PropertyID: "prop-1", Change: "new door code"}))
	require.NoError(t, publisher.EnqueueHumanResolve(ctx, HumanResolveEvent{ConversationID: "c1"}))

	require.Eventually(t, func() bool {
		return f.engine.states.Snapshot("c1") == StateResolved
	}, 3*time.Second, 20*time.Millisecond)

	p, _, err := f.cache.Epochs(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p)

	cancel()
	worker.Wait()
}

func TestWorker_MalformedJobIsDropped(t *testing.T) {
	f := newEngineFixture(t)
	queue := NewMemoryQueue(16)
	worker := NewWorker(f.engine, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	require.NoError(t, queue.Send(ctx, "{not json"))
	require.NoError(t, queue.Send(ctx, `{"kind":"inbound_message"}`))

	// Both jobs are consumed and discarded without touching the dispatcher.
	assert.Never(t, func() bool {
		return len(f.dispatcher.sent()) > 0
	}, 500*time.Millisecond, 50*time.Millisecond)

	cancel()
	worker.Wait()
}
