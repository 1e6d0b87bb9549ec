package ua

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsTrackEntities(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine := newFakeEngine()
	ua := newTestUA(engine, WithMetricsRegisterer(reg))

	_, err := ua.AddConversationProfile(testProfile("sip:alice@example.com", 3600), false)
	require.NoError(t, err)
	h := ua.CreateSubscription("presence", mustUri("sip:bob@example.com"), 60, "")
	drain(ua)

	m := ua.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitiesActive.WithLabelValues(kindProfile)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitiesActive.WithLabelValues(kindRegistration)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitiesActive.WithLabelValues(kindSubscription)))

	ua.DestroySubscription(h)
	drain(ua)
	ua.DestroySubscription(h)
	drain(ua)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.entitiesActive.WithLabelValues(kindSubscription)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsFailed.WithLabelValues("ENTITY_NOT_FOUND")))

	require.NoError(t, ua.Shutdown(context.Background()))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.entitiesActive.WithLabelValues(kindRegistration)))

	n, err := testutil.GatherAndCount(reg, "sipua_executor_commands_executed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.commandPosted()
		m.commandFailed("X")
		m.entityAdded(kindProfile)
		m.shutdownFinished(0)
	})
}

func TestErrorWrapping(t *testing.T) {
	err := errEntityNotFound(kindPublication, 3)
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Equal(t, "ENTITY_NOT_FOUND", err.ErrorCode())
	assert.Equal(t, "STATE", err.ErrorCategory())
	assert.Equal(t, uint64(3), err.Fields["handle"])

	timeout := errShutdownTimedOut(StateEntitiesEnding, context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, ErrShutdownTimedOut)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
}
