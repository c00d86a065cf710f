package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/meterbridge/internal/core/domain"
)

type forRequest struct {
	req domain.ActorRequest
}

// ExtendedRequest resolves where the response of a request goes: the explicit
// ReplyToRef when set, otherwise the sender.
type ExtendedRequest interface {
	Respond(ctx actor.Context, resp domain.ActorResponse)
	ReplyTo(ctx actor.Context) *actor.PID
}

func ForRequest(r domain.ActorRequest) ExtendedRequest {
	return forRequest{req: r}
}

func (r forRequest) Respond(ctx actor.Context, resp domain.ActorResponse) {
	if r.req.ReplyTo() != nil {
		ctx.Send((*actor.PID)(r.req.ReplyTo()), resp)
	} else {
		ctx.Respond(resp)
	}
}

func (r forRequest) ReplyTo(ctx actor.Context) *actor.PID {
	if r.req.ReplyTo() != nil {
		return (*actor.PID)(r.req.ReplyTo())
	}
	return ctx.Sender()
}

// RefOf converts a PID into the reference type carried by requests.
func RefOf(pid *actor.PID) *domain.ActorRef {
	return (*domain.ActorRef)(pid)
}
