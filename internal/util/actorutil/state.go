package actorutil

import (
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type ActorWithStates struct {
	Behavior actor.Behavior
}

// ActorState is a named receive function. The name shows up in health
// responses and in the "actor@state" prefix of log lines.
type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	s.Behavior.UnbecomeStacked()
}

// StateLogger prefixes messages with "<actor>@<state>".
type StateLogger struct {
	Actor  string
	Logger *zap.Logger
}

func (l StateLogger) Debug(state string, msg string, fields ...zap.Field) {
	l.Logger.Debug(l.prefix(state, msg), fields...)
}

func (l StateLogger) Info(state string, msg string, fields ...zap.Field) {
	l.Logger.Info(l.prefix(state, msg), fields...)
}

func (l StateLogger) Warn(state string, msg string, fields ...zap.Field) {
	l.Logger.Warn(l.prefix(state, msg), fields...)
}

func (l StateLogger) Error(state string, msg string, fields ...zap.Field) {
	l.Logger.Error(l.prefix(state, msg), fields...)
}

func (l StateLogger) prefix(state string, msg string) string {
	return fmt.Sprintf("%s@%s %s", l.Actor, state, msg)
}

// MessageType is the zap field used when logging unhandled or stashed messages.
func MessageType(msg any) zap.Field {
	return zap.String("type", fmt.Sprintf("%T", msg))
}
