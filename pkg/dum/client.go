package dum

import (
	"context"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/transport"
)

// Requester отправляет запрос и дожидается финального ответа
type Requester interface {
	Do(ctx context.Context, req *sip.Request) (*sip.Response, error)
	// DoDigestAuth повторяет req с ответом на вызов из res (401/407)
	DoDigestAuth(ctx context.Context, req *sip.Request, res *sip.Response, username, password string) (*sip.Response, error)
}

// Responder отвечает на входящий запрос; sip.ServerTransaction подходит
type Responder interface {
	Respond(res *sip.Response) error
}

// FlowReporter принимает flow, по которому не удалось отправить запрос,
// и ставит под наблюдение flow, по которому пришел ответ;
// *transport.Manager подходит
type FlowReporter interface {
	ReportFlowTerminated(flow transport.FlowKey)
	WatchFlow(flow transport.FlowKey)
}

type sipgoRequester struct {
	client *sipgo.Client
}

// NewRequester Requester поверх клиента sipgo
func NewRequester(client *sipgo.Client) Requester {
	return &sipgoRequester{client: client}
}

func (r *sipgoRequester) Do(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	return r.client.Do(ctx, req)
}

func (r *sipgoRequester) DoDigestAuth(ctx context.Context, req *sip.Request, res *sip.Response, username, password string) (*sip.Response, error) {
	return r.client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
		Username: username,
		Password: password,
	})
}
