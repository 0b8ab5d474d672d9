package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = time.Minute

func newTestLoop(env *testEnv, feed *scriptedFeed, status *memStatus, maxErrors int) *IngestionLoop {
	return NewIngestionLoop(env.rt, feed, status, LoopConfig{
		PollInterval:    testPollInterval,
		MaxErrors:       maxErrors,
		PageSize:        50,
		SessionLifetime: testLifetime,
	})
}

func TestIngestionLoopDispatchesOldestFirst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	t1 := testItem("t1", testEpoch.Add(1*time.Second))
	t2 := testItem("t2", testEpoch.Add(2*time.Second))
	t3 := testItem("t3", testEpoch.Add(3*time.Second))
	reply := testItem("reply", testEpoch.Add(2*time.Second))
	reply.IsReply = true
	reshare := testItem("reshare", testEpoch.Add(4*time.Second))
	reshare.IsReshare = true

	feed := &scriptedFeed{results: []feedResult{{items: []domain.FeedItem{reshare, t3, reply, t2, t1}}}}
	status := &memStatus{}
	loop := newTestLoop(env, feed, status, 3)
	ctx := context.Background()

	env.clock.Step(5 * time.Second)
	require.NoError(t, loop.iterate(ctx))

	sent := env.chat.sentCards()
	require.Len(t, sent, 3)
	assert.Equal(t, []string{"Bonjour t1", "Bonjour t2", "Bonjour t3"}, []string{sent[0].Text, sent[1].Text, sent[2].Text})

	calls := feed.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testEpoch, calls[0].from)
	assert.Equal(t, testEpoch.Add(5*time.Second), calls[0].to)
	assert.Equal(t, 50, calls[0].limit)

	assert.Equal(t, testEpoch.Add(5*time.Second), loop.Watermark())
	assert.Equal(t, 0, loop.ErrorCount())
	assert.Len(t, loop.Sessions(), 3)

	snapshot := loop.Snapshot()
	assert.Equal(t, int64(3), snapshot.Dispatched)
	assert.Len(t, snapshot.LiveSessions, 3)
	saved, err := status.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Dispatched)

	require.NoError(t, loop.Shutdown(ctx))
}

func TestIngestionLoopErrorBudget(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	boom := errors.New("timeline unavailable")
	feed := &scriptedFeed{results: []feedResult{{err: boom}, {err: boom}, {err: boom}}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()
	start := loop.Watermark()

	for i := 1; i <= 2; i++ {
		env.clock.Step(testPollInterval)
		require.NoError(t, loop.iterate(ctx))
		assert.Equal(t, i, loop.ErrorCount())
		assert.Equal(t, start, loop.Watermark())
	}

	env.clock.Step(testPollInterval)
	err := loop.iterate(ctx)
	require.ErrorIs(t, err, domain.ErrErrorBudgetExhausted)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, loop.ErrorCount())
	assert.Equal(t, start, loop.Watermark())
	assert.Equal(t, []string{"Bot errored 1", "Bot errored 2", "Bot errored 3"}, env.reporter.Reports())

	for _, call := range feed.Calls() {
		assert.Equal(t, start, call.from)
	}
}

func TestIngestionLoopRecovers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	feed := &scriptedFeed{results: []feedResult{{err: errors.New("flaky")}, {}}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()

	env.clock.Step(testPollInterval)
	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 1, loop.ErrorCount())
	assert.Empty(t, env.reporter.Debugs())

	env.clock.Step(testPollInterval)
	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 0, loop.ErrorCount())
	assert.Equal(t, testEpoch.Add(2*testPollInterval), loop.Watermark())
	assert.Equal(t, []string{"Bot recovered from error."}, env.reporter.Debugs())
	assert.Empty(t, loop.Snapshot().LastError)
}

func TestIngestionLoopSkipsItemWithLiveSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	item := testItem("dup", testEpoch.Add(time.Second))
	feed := &scriptedFeed{results: []feedResult{
		{items: []domain.FeedItem{item}},
		{items: []domain.FeedItem{item}},
	}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))
	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))

	assert.Len(t, env.chat.sentCards(), 1)
	require.NoError(t, loop.Shutdown(ctx))
}

func TestIngestionLoopRetriesItemAfterSendFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	env.chat.sendErr = errors.New("chat down")
	item := testItem("retry", testEpoch.Add(time.Second))
	feed := &scriptedFeed{results: []feedResult{
		{items: []domain.FeedItem{item}},
		{items: []domain.FeedItem{item}},
	}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 1, loop.ErrorCount())
	assert.Equal(t, testEpoch, loop.Watermark())
	assert.Empty(t, loop.Sessions())

	env.chat.mu.Lock()
	env.chat.sendErr = nil
	env.chat.mu.Unlock()

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 0, loop.ErrorCount())
	assert.Len(t, env.chat.sentCards(), 1)
	assert.Len(t, loop.Sessions(), 1)
	require.NoError(t, loop.Shutdown(ctx))
}

func TestIngestionLoopSubscribeFailureStripsCard(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	env.chat.subErr = errors.New("subscription table full")
	feed := &scriptedFeed{results: []feedResult{{items: []domain.FeedItem{testItem("nosub", testEpoch.Add(time.Second))}}}}
	loop := newTestLoop(env, feed, nil, 3)

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(context.Background()))

	assert.Equal(t, 1, loop.ErrorCount())
	assert.Empty(t, loop.Sessions())
	card, ok := env.chat.lastUpdate("chat:1")
	require.True(t, ok)
	assert.Empty(t, card.Controls)
}

func TestIngestionLoopSweepsExpiredSessions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	feed := &scriptedFeed{results: []feedResult{{items: []domain.FeedItem{testItem("a", testEpoch.Add(time.Second))}}}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))
	require.Len(t, loop.Sessions(), 1)

	env.clock.Step(testLifetime)
	require.Eventually(t, func() bool { return len(loop.Sessions()) == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, loop.sessions.Len())

	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 0, loop.sessions.Len())
}

func TestIngestionLoopIgnoresCancelledCycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	feed := &scriptedFeed{results: []feedResult{{err: context.Canceled}}}
	loop := newTestLoop(env, feed, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, loop.iterate(ctx))
	assert.Equal(t, 0, loop.ErrorCount())
	assert.Empty(t, env.reporter.Reports())
}

func TestIngestionLoopEvict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	item := testItem("evict", testEpoch.Add(time.Second))
	feed := &scriptedFeed{results: []feedResult{{items: []domain.FeedItem{item}}}}
	loop := newTestLoop(env, feed, nil, 3)
	ctx := context.Background()

	env.clock.Step(2 * time.Second)
	require.NoError(t, loop.iterate(ctx))

	require.NoError(t, loop.Evict(ctx, item.Key))
	assert.Empty(t, loop.Sessions())
	require.ErrorIs(t, loop.Evict(ctx, item.Key), domain.ErrUnknownKey)

	card, ok := env.chat.lastUpdate("chat:1")
	require.True(t, ok)
	assert.Empty(t, card.Controls)
}

func TestIngestionLoopShutdownStripsControls(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	feed := &scriptedFeed{results: []feedResult{{items: []domain.FeedItem{
		testItem("b", testEpoch.Add(2*time.Second)),
		testItem("a", testEpoch.Add(time.Second)),
	}}}}
	status := &memStatus{}
	loop := newTestLoop(env, feed, status, 3)
	ctx := context.Background()

	env.clock.Step(3 * time.Second)
	require.NoError(t, loop.iterate(ctx))
	require.NoError(t, loop.Shutdown(ctx))

	for _, ref := range []domain.MessageRef{"chat:1", "chat:2"} {
		card, ok := env.chat.lastUpdate(ref)
		require.True(t, ok, ref)
		assert.Empty(t, card.Controls)
		assert.False(t, env.chat.subscribed(ref))
	}
	assert.False(t, env.clock.HasWaiters())

	saved, err := status.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved.LiveSessions)
}

func TestIngestionLoopStartStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	loop := newTestLoop(env, &scriptedFeed{}, nil, 3)
	ctx := context.Background()

	require.ErrorIs(t, loop.Stop(), domain.ErrNotRunning)
	require.NoError(t, loop.Start(ctx))
	require.ErrorIs(t, loop.Start(ctx), domain.ErrAlreadyRunning)
	assert.True(t, loop.Running())

	waitForTimer(t, env.clock)
	require.NoError(t, loop.Stop())
	<-loop.Done()
	assert.False(t, loop.Running())
	require.NoError(t, loop.Err())
	require.ErrorIs(t, loop.Stop(), domain.ErrNotRunning)

	require.NoError(t, loop.Start(ctx))
	require.NoError(t, loop.Stop())
	<-loop.Done()
}

func TestIngestionLoopStopsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	boom := errors.New("timeline unavailable")
	feed := &scriptedFeed{results: []feedResult{{err: boom}, {err: boom}}}
	loop := newTestLoop(env, feed, nil, 2)

	require.NoError(t, loop.Start(context.Background()))
	waitForTimer(t, env.clock)
	assert.Equal(t, 1, loop.ErrorCount())

	env.clock.Step(testPollInterval)
	select {
	case <-loop.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}

	assert.False(t, loop.Running())
	require.ErrorIs(t, loop.Err(), domain.ErrErrorBudgetExhausted)
	assert.Contains(t, env.reporter.Reports(), "Fetcher loop failed!")
}

func TestIngestionLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(false)
	loop := newTestLoop(env, &scriptedFeed{}, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, loop.Start(ctx))
	waitForTimer(t, env.clock)
	cancel()
	<-loop.Done()

	assert.False(t, loop.Running())
	require.NoError(t, loop.Err())
}
