package ua

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStack struct {
	calls int
	err   error
}

func (s *fakeStack) Shutdown() error {
	s.calls++
	return s.err
}

func populatedUA(t *testing.T, engine *fakeEngine, opts ...Option) *UserAgent {
	t.Helper()
	ua := newTestUA(engine, opts...)

	_, err := ua.AddConversationProfile(testProfile("sip:alice@example.com", 3600), false)
	require.NoError(t, err)
	_, err = ua.AddConversationProfile(testProfile("sip:bob@example.com", 3600), false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ua.CreateSubscription("presence", mustUri("sip:carol@example.com"), 600, "")
	}
	ua.CreatePublication("presence", mustUri("sip:alice@example.com"), "away", 600, "")
	drain(ua)
	return ua
}

func TestShutdownEndsEverything(t *testing.T) {
	tests := []struct {
		name   string
		inline bool
	}{
		{name: "destroy posted", inline: false},
		// сущности удаляют себя из реестров прямо во время обхода
		{name: "destroy inline", inline: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			stack := &fakeStack{}
			app := &recordingApp{}
			ua := populatedUA(t, engine, WithStack(stack), WithApplication(app))
			engine.inlineDestroy = tt.inline

			require.NoError(t, ua.Shutdown(context.Background()))

			require.Len(t, engine.registrations, 2)
			require.Len(t, engine.subscriptions, 3)
			for i := range engine.registrations {
				assert.Equal(t, 1, engine.registration(i).ended, "registration %d", i)
			}
			for i := range engine.subscriptions {
				assert.Equal(t, 1, engine.subscription(i).ended, "subscription %d", i)
			}
			assert.Equal(t, 1, engine.publication(0).ended)

			assert.Equal(t, 1, engine.shutdownCalls)
			assert.Equal(t, 1, stack.calls)
			assert.True(t, ua.exec.Closed())
			assert.Equal(t, StateTerminated, ua.LifecycleState())
			assert.Equal(t, 0, ua.registrations.Len())
			assert.Equal(t, 0, ua.subscriptions.Len())
			assert.Equal(t, 0, ua.publications.Len())
		})
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	stack := &fakeStack{}
	ua := populatedUA(t, engine, WithStack(stack))

	require.NoError(t, ua.Shutdown(context.Background()))
	require.NoError(t, ua.Shutdown(context.Background()))

	assert.Equal(t, 1, engine.shutdownCalls)
	assert.Equal(t, 1, stack.calls)
}

func TestShutdownTimesOut(t *testing.T) {
	engine := newFakeEngine()
	engine.holdShutdown = true
	stack := &fakeStack{}
	ua := populatedUA(t, engine, WithStack(stack), WithShutdownTimeout(50*time.Millisecond))

	start := time.Now()
	err := ua.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShutdownTimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// стек и очередь остановлены даже после таймаута
	assert.Equal(t, 1, stack.calls)
	assert.True(t, ua.exec.Closed())
	assert.Equal(t, StateTerminated, ua.LifecycleState())

	// повторный вызов возвращает ту же ошибку
	assert.Equal(t, err, ua.Shutdown(context.Background()))
}

func TestShutdownRespectsContext(t *testing.T) {
	engine := newFakeEngine()
	engine.holdShutdown = true
	ua := populatedUA(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ua.Shutdown(ctx)
	assert.ErrorIs(t, err, ErrShutdownTimedOut)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateAfterShutdownRequested(t *testing.T) {
	engine := newFakeEngine()
	app := &recordingApp{}
	ua := newTestUA(engine, WithApplication(app))
	_, err := ua.AddConversationProfile(testProfile("sip:alice@example.com", 0), false)
	require.NoError(t, err)
	drain(ua)

	ua.transition("request")
	h := ua.CreateSubscription("presence", mustUri("sip:bob@example.com"), 60, "")
	drain(ua)
	assert.Empty(t, engine.subscriptions)
	assert.Equal(t, []SubscriptionHandle{h}, app.terminated)

	ua.exec.Close()
}

func TestStackErrorDoesNotFailShutdown(t *testing.T) {
	stack := &fakeStack{err: errFakeEngine}
	ua := newTestUA(newFakeEngine(), WithStack(stack))

	assert.NoError(t, ua.Shutdown(context.Background()))
	assert.Equal(t, 1, stack.calls)
}

func TestRunStopsAfterShutdown(t *testing.T) {
	ua := newTestUA(newFakeEngine())

	done := make(chan error, 1)
	go func() {
		done <- ua.Run(context.Background())
	}()

	// Shutdown из другой горутины конкурирует с Run за обработку очереди
	require.NoError(t, ua.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ua := newTestUA(newFakeEngine())
	defer ua.exec.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ua.Run(ctx), context.DeadlineExceeded)
}

// shutdownFromTimerApp вызывает Shutdown из колбэка таймера
type shutdownFromTimerApp struct {
	BaseApplication
	ua     *UserAgent
	result chan error
}

func (a *shutdownFromTimerApp) OnApplicationTimer(uint32, time.Duration, uint32) {
	a.result <- a.ua.Shutdown(context.Background())
}

func TestShutdownFromCallback(t *testing.T) {
	tests := []struct {
		name string
		hold bool
	}{
		{name: "engine released", hold: false},
		{name: "deadline expires", hold: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.holdShutdown = tt.hold
			stack := &fakeStack{}
			app := &shutdownFromTimerApp{result: make(chan error, 1)}
			ua := populatedUA(t, engine,
				WithStack(stack),
				WithApplication(app),
				WithShutdownTimeout(200*time.Millisecond))
			app.ua = ua

			done := make(chan error, 1)
			go func() {
				done <- ua.Run(context.Background())
			}()
			ua.StartApplicationTimer(1, 0, 0)

			select {
			case err := <-app.result:
				assert.ErrorIs(t, err, ErrShuttingDown)
			case <-time.After(2 * time.Second):
				t.Fatal("Shutdown called from a callback is still blocked")
			}

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after shutdown requested from a callback")
			}
			assert.Equal(t, StateTerminated, ua.LifecycleState())
			assert.Equal(t, 1, stack.calls)
			assert.True(t, ua.exec.Closed())
			if !tt.hold {
				assert.Equal(t, 0, ua.subscriptions.Len())
				assert.Equal(t, 0, ua.registrations.Len())
			}
		})
	}
}
