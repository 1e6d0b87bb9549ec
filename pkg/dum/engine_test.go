package dum

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
)

type foreignDialogSet struct{}

func (foreignDialogSet) End() {}

func TestMakeBeforeAttach(t *testing.T) {
	m := New(&fakeRequester{}, WithLogger(logging.NoOpLogger{}))
	t.Cleanup(m.Close)

	_, err := m.MakeRegistration(testProfile(), &regRecorder{})
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestSendUnknownDialogSet(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.mgr.Send(foreignDialogSet{}), ErrUnknownDialogSet)

	cr, err := h.mgr.MakeRegistration(testProfile(), &regRecorder{})
	require.NoError(t, err)
	h.mgr.forget(cr.(*clientRegistration).callID())
	assert.ErrorIs(t, h.mgr.Send(cr), ErrUnknownDialogSet)
	assert.Zero(t, h.req.count(sip.REGISTER))
}

func TestSendAfterClose(t *testing.T) {
	h := newHarness(t)
	cr, err := h.mgr.MakeRegistration(testProfile(), &regRecorder{})
	require.NoError(t, err)
	require.Equal(t, 1, h.sets())

	h.mgr.Close()
	assert.ErrorIs(t, h.mgr.Send(cr), ErrClosed)
	assert.Zero(t, h.sets(), "отклоненный dialog-set забыт")
}

func TestShutdownWithoutDialogSets(t *testing.T) {
	h := newHarness(t)
	l := &shutdownRecorder{}
	h.mgr.Shutdown(l)
	h.waitFor(func() bool { return l.count() == 1 })

	_, err := h.mgr.MakeSubscription(mustUri("sip:bob@example.com"), testProfile(), "presence", 600, "", &subRecorder{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdownWaitsForLastDialogSet(t *testing.T) {
	h := newHarness(t)
	rec := &regRecorder{}
	cr := register(t, h, rec)
	h.waitFor(func() bool { return rec.has("success") })

	l := &shutdownRecorder{}
	h.mgr.Shutdown(l)
	h.exec.Process(20 * time.Millisecond)
	assert.Zero(t, l.count())

	cr.End()
	h.waitFor(func() bool { return l.count() == 1 })
	assert.Equal(t, []string{"success", "removed", "destroyed"}, rec.snapshot())
}

func TestDoAppliesProfile(t *testing.T) {
	h := newHarness(t, WithUserAgent("sipua/1.0"))
	proxy := mustUri("sip:proxy.example.com:5080")
	profile := testProfile()
	profile.OutboundProxy = &proxy

	req := sip.NewRequest(sip.OPTIONS, mustUri("sip:bob@example.com"))
	res, err := h.mgr.do(req, profile)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	sent := h.req.sent(sip.OPTIONS)
	require.Len(t, sent, 1)
	assert.Equal(t, "proxy.example.com:5080", sent[0].Destination())
	assert.Equal(t, "sipua/1.0", header(sent[0], "User-Agent"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.mgr.metrics.requests.WithLabelValues("OPTIONS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.mgr.metrics.responses.WithLabelValues("OPTIONS", "2xx")))
}

func TestNetworkFailureReportsReliableFlow(t *testing.T) {
	reporter := &fakeReporter{}
	m := New(&fakeRequester{},
		WithLogger(logging.NoOpLogger{}),
		WithMetricsRegisterer(prometheus.NewRegistry()),
		WithFlowReporter(reporter))
	t.Cleanup(m.Close)

	opErr := &net.OpError{Op: "write", Net: "tcp", Err: errors.New("broken pipe")}

	tcp := sip.NewRequest(sip.REGISTER, mustUri("sip:example.com"))
	tcp.SetTransport("TCP")
	tcp.SetDestination("Registrar.Example.com:5060")
	m.networkFailure(tcp, opErr)

	udp := sip.NewRequest(sip.REGISTER, mustUri("sip:example.com"))
	udp.SetTransport("UDP")
	udp.SetDestination("10.0.0.1:5060")
	m.networkFailure(udp, opErr)

	m.networkFailure(tcp, errors.New("transaction timed out"))

	assert.Equal(t, []transport.FlowKey{{Network: "tcp", Remote: "registrar.example.com:5060"}}, reporter.flows)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.metrics.networkErrors))
}

func TestDoWatchesResponseFlow(t *testing.T) {
	reporter := &fakeReporter{}
	requester := &fakeRequester{}
	requester.setHandle(func(req *sip.Request) (*sip.Response, error) {
		res := reply(req, 200)
		res.SetTransport("TCP")
		res.SetSource("203.0.113.5:5060")
		return res, nil
	})
	m := New(requester,
		WithLogger(logging.NoOpLogger{}),
		WithMetricsRegisterer(prometheus.NewRegistry()),
		WithFlowReporter(reporter))
	t.Cleanup(m.Close)

	_, err := m.do(sip.NewRequest(sip.REGISTER, mustUri("sip:example.com")), testProfile())
	require.NoError(t, err)

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	assert.Equal(t, []transport.FlowKey{{Network: "tcp", Remote: "203.0.113.5:5060"}}, reporter.watched)
	assert.Empty(t, reporter.flows)
}

func TestContactFor(t *testing.T) {
	aor := mustUri("sip:alice:pw@example.com;user=phone")

	h := newHarness(t, WithContact(mustUri("sip:192.0.2.10:5070;transport=tcp")))
	c := h.mgr.contactFor(aor)
	assert.Equal(t, "alice", c.User)
	assert.Empty(t, c.Password)
	assert.Equal(t, "192.0.2.10", c.Host)
	assert.Equal(t, 5070, c.Port)
	tp, _ := c.UriParams.Get("transport")
	assert.Equal(t, "tcp", tp)

	c.UriParams["rinstance"] = "x"
	_, leaked := h.mgr.opts.contact.UriParams.Get("rinstance")
	assert.False(t, leaked, "параметры Contact копируются")

	bare := New(&fakeRequester{}, WithLogger(logging.NoOpLogger{}))
	t.Cleanup(bare.Close)
	fallback := bare.contactFor(aor)
	assert.Equal(t, "example.com", fallback.Host)
	assert.Equal(t, "alice", fallback.User)
}
