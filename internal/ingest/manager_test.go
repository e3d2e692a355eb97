package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/onebox/internal/config"
	"github.com/brandon/onebox/internal/parse"
	"github.com/brandon/onebox/pkg/types"
)

func newTestManager(dial DialFunc, writer DocumentWriter) *Manager {
	cfg := testConfig()
	s := NewScheduler(dial, parse.NewParser(testLogger()), &fakeLabeler{label: types.CategoryInterested},
		writer, &fakeNotifier{}, cfg, testLogger())
	return NewManager(cfg, dial, s, testLogger())
}

func TestConnectRunsInitialCycle(t *testing.T) {
	sess := newFakeSession(rawMail(1, "hello", "first message"))
	writer := &fakeWriter{}
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		return sess, nil
	}, writer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)

	require.Eventually(t, func() bool { return writer.count() == 1 }, 2*time.Second, 5*time.Millisecond,
		"connect must trigger an initial fetch cycle")

	require.Eventually(t, func() bool {
		return m.States()["work"] == "listening"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectIsIdempotent(t *testing.T) {
	sess := newFakeSession()
	var dials atomic.Int32
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		dials.Add(1)
		return sess, nil
	}, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	account := testAccount()
	m.Connect(ctx, account)
	require.Eventually(t, func() bool {
		return m.States()["work"] == "listening"
	}, 2*time.Second, 5*time.Millisecond)

	before := dials.Load()
	m.Connect(ctx, account)
	m.Connect(ctx, account)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, dials.Load(), "reconnecting a live account is a no-op")
	assert.Len(t, m.States(), 1)
}

func TestNewMailEventTriggersCycle(t *testing.T) {
	sess := newFakeSession(rawMail(1, "hello", "first message"))
	var dials atomic.Int32
	writer := &fakeWriter{}
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		dials.Add(1)
		return sess, nil
	}, writer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	require.Eventually(t, func() bool { return writer.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	afterInitial := dials.Load()

	// New-mail event wakes the listener and triggers another cycle.
	sess.updates <- struct{}{}

	require.Eventually(t, func() bool { return dials.Load() > afterInitial }, 2*time.Second, 5*time.Millisecond)
	// The message was already processed, so the rerun only skips it.
	assert.Equal(t, 1, writer.count())
}

func TestDialFailureGivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx, testAccount())

	require.Eventually(t, func() bool {
		return len(m.States()) == 0
	}, 2*time.Second, 5*time.Millisecond, "exhausted account is removed from the active set")

	assert.Equal(t, int32(3), dials.Load(), "bounded reconnect attempts")

	// The account stays eligible for a fresh Connect.
	m.Connect(ctx, testAccount())
	require.Eventually(t, func() bool { return dials.Load() > 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestListenErrorReconnects(t *testing.T) {
	sessions := make(chan *fakeSession, 16)
	var dials atomic.Int32
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		dials.Add(1)
		s := newFakeSession()
		sessions <- s
		return s, nil
	}, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx, testAccount())

	// The listening session is dialed first; fetch cycles dial their own.
	listener := <-sessions
	require.Eventually(t, func() bool {
		return m.States()["work"] == "listening"
	}, 2*time.Second, 5*time.Millisecond)
	before := dials.Load()

	// Simulate the server dropping the connection.
	close(listener.updates)

	require.Eventually(t, func() bool { return dials.Load() > before }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownDrains(t *testing.T) {
	sess := newFakeSession(rawMail(1, "hello", "body"))
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		return sess, nil
	}, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool {
		return m.States()["work"] == "listening"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		m.Shutdown(2 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Empty(t, m.States())
}

func TestShutdownDrainsInFlightCycle(t *testing.T) {
	// A cycle caught mid-fetch by the shutdown signal still finishes and
	// acknowledges its messages within the grace period.
	sess := newFakeSession(rawMail(1, "hello", "body"))
	sess.fetchGate = make(chan struct{})
	var dials atomic.Int32
	writer := &fakeWriter{}
	m := newTestManager(func(context.Context, *config.AccountConfig) (Session, error) {
		dials.Add(1)
		return sess, nil
	}, writer)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	// The listener dials first, then the initial cycle; it is now blocked
	// inside the fetch.
	require.Eventually(t, func() bool { return dials.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	close(sess.fetchGate)
	m.Shutdown(2 * time.Second)

	assert.Equal(t, 1, writer.count(), "in-flight cycle must complete past the shutdown signal")
	assert.Equal(t, []uint32{1}, sess.seenUIDs())
}

func TestBackoffDelayCaps(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, backoffDelay(base, 1))
	assert.Equal(t, 2*base, backoffDelay(base, 2))
	assert.Equal(t, 4*base, backoffDelay(base, 3))
	assert.Equal(t, maxReconnectDelay, backoffDelay(base, 40))
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}
