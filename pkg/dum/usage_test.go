package dum

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sipua/pkg/ua"
)

func TestRefreshDelay(t *testing.T) {
	assert.Equal(t, 3240*time.Second, refreshDelay(3600))
	assert.Equal(t, 9*time.Second, refreshDelay(10))
	assert.Equal(t, time.Second, refreshDelay(1))
	assert.Equal(t, time.Second, refreshDelay(0))
}

func TestHeaderUint(t *testing.T) {
	tests := []struct {
		value string
		want  uint32
		ok    bool
	}{
		{value: "120", want: 120, ok: true},
		{value: " 120 ", want: 120, ok: true},
		{value: "120 (overloaded);duration=60", want: 120, ok: true},
		{value: "60;duration=10", want: 60, ok: true},
		{value: "soon", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			res := reply(sip.NewRequest(sip.REGISTER, mustUri("sip:example.com")), 503,
				sip.NewHeader("Retry-After", tt.value))
			got, ok := headerUint(res, "Retry-After")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	res := reply(sip.NewRequest(sip.REGISTER, mustUri("sip:example.com")), 503)
	_, ok := headerUint(res, "Retry-After")
	assert.False(t, ok)
	assert.Zero(t, retryAfter(res))
	assert.Zero(t, retryAfter(nil))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "example.com:5060", hostPort(mustUri("sip:example.com")))
	assert.Equal(t, "example.com:5061", hostPort(mustUri("sips:example.com")))
	assert.Equal(t, "10.0.0.1:5080", hostPort(mustUri("sip:10.0.0.1:5080")))
}

func TestDialogStateRequest(t *testing.T) {
	from := ua.NameAddr{DisplayName: "Alice", Uri: mustUri("sip:alice@example.com")}
	d := newDialogState(from, mustUri("sip:bob@example.com"))

	first := d.request(sip.SUBSCRIBE)
	assert.Equal(t, "example.com", first.Recipient.Host)
	assert.Equal(t, uint32(1), first.CSeq().SeqNo)
	assert.Equal(t, sip.SUBSCRIBE, first.CSeq().MethodName)
	assert.Equal(t, d.callID, first.CallID().Value())
	tag, _ := first.From().Params.Get("tag")
	assert.Equal(t, d.localTag, tag)
	_, hasTag := first.To().Params.Get("tag")
	assert.False(t, hasTag)

	d.adopt("remote", &sip.ContactHeader{Address: mustUri("sip:bob@198.51.100.20:5062")})
	d.adopt("other", nil)
	require.True(t, d.established())

	second := d.request(sip.SUBSCRIBE)
	assert.Equal(t, uint32(2), second.CSeq().SeqNo)
	assert.Equal(t, "198.51.100.20", second.Recipient.Host)
	assert.Equal(t, 5062, second.Recipient.Port)
	remote, _ := second.To().Params.Get("tag")
	assert.Equal(t, "remote", remote, "тег удаленной стороны не меняется внутри диалога")

	oldID := d.callID
	d.reset()
	assert.NotEqual(t, oldID, d.callID)
	assert.False(t, d.established())
	assert.Nil(t, d.remoteTarget)
	assert.Zero(t, d.cseq)
}

func TestNewTag(t *testing.T) {
	a, b := newTag(), newTag()
	assert.Len(t, a, 10)
	assert.NotEqual(t, a, b)
}
