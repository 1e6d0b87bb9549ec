package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
)

func TestNewFlowKey(t *testing.T) {
	tests := []struct {
		network, remote string
		want            FlowKey
	}{
		{"TCP", "10.0.0.1:5060", FlowKey{Network: "tcp", Remote: "10.0.0.1:5060"}},
		{"tls", "Proxy.Example.COM:5061", FlowKey{Network: "tls", Remote: "proxy.example.com:5061"}},
		{"udp", "[2001:DB8::1]:5060", FlowKey{Network: "udp", Remote: "[2001:db8::1]:5060"}},
		{"udp", "no-port", FlowKey{Network: "udp", Remote: "no-port"}},
		{"udp", "", FlowKey{}},
	}
	for _, tt := range tests {
		t.Run(tt.network+" "+tt.remote, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFlowKey(tt.network, tt.remote))
		})
	}
}

func TestFlowKeyReliable(t *testing.T) {
	assert.True(t, NewFlowKey("tcp", "a:1").Reliable())
	assert.True(t, NewFlowKey("TLS", "a:1").Reliable())
	assert.False(t, NewFlowKey("udp", "a:1").Reliable())
	assert.Equal(t, "<none>", FlowKey{}.String())
	assert.Equal(t, "tcp:a:1", NewFlowKey("tcp", "a:1").String())
}

func TestFlowFromMessage(t *testing.T) {
	var u sip.Uri
	_ = sip.ParseUri("sip:registrar.example.com", &u)
	req := sip.NewRequest(sip.REGISTER, u)
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.SetTransport("TCP")
	res.SetSource("10.0.0.1:5060")

	assert.Equal(t, FlowKey{Network: "tcp", Remote: "10.0.0.1:5060"}, FlowFromMessage(res))
	assert.True(t, FlowFromMessage(nil).IsZero())
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("401 unauthorized"), false},
		{io.EOF, true},
		{fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{&TransportError{Transport: "tcp", Operation: "write", Err: net.ErrClosed}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNetworkError(tt.err), "%v", tt.err)
	}
}
