package actorutil

import (
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type taskValue struct {
	N   int
	Err error
}

func TestBackgroundTaskSuccess(t *testing.T) {
	var got *taskValue
	NewBackgroundTask(nil, func() (*taskValue, error) {
		return &taskValue{N: 1}, nil
	}).OnSuccess(func(v taskValue) { got = &v }).Run()
	assert.Equal(t, &taskValue{N: 1}, got)
}

func TestBackgroundTaskRecoverDeliversRecoveredValue(t *testing.T) {
	boom := errors.New("boom")
	var got *taskValue
	NewBackgroundTask(nil, func() (*taskValue, error) {
		return nil, boom
	}).Recover(func(err error) taskValue {
		return taskValue{N: -1, Err: err}
	}).OnSuccess(func(v taskValue) { got = &v }).Run()

	if assert.NotNil(t, got) {
		assert.Equal(t, -1, got.N)
		assert.ErrorIs(t, got.Err, boom)
	}
}

func TestBackgroundTaskOnError(t *testing.T) {
	boom := errors.New("boom")
	var gotErr error
	success := false
	NewBackgroundTask(nil, func() (*taskValue, error) {
		return nil, boom
	}).OnError(func(err error) { gotErr = err }).OnSuccess(func(taskValue) { success = true }).Run()
	assert.ErrorIs(t, gotErr, boom)
	assert.False(t, success)
}

func TestBackgroundTaskTimeout(t *testing.T) {
	var got *taskValue
	start := time.Now()
	NewBackgroundTask(nil, func() (*taskValue, error) {
		time.Sleep(2 * time.Second)
		return &taskValue{N: 1}, nil
	}).WithTimeout(50 * time.Millisecond).Recover(func(err error) taskValue {
		return taskValue{Err: err}
	}).OnSuccess(func(v taskValue) { got = &v }).Run()

	assert.Less(t, time.Since(start), time.Second)
	if assert.NotNil(t, got) {
		assert.Error(t, got.Err)
	}
}

func TestMapBackgroundTaskKeepsTimeout(t *testing.T) {
	var got string
	task := NewBackgroundTask(nil, func() (*taskValue, error) {
		return &taskValue{N: 7}, nil
	}).WithTimeout(time.Second)
	mapped := MapBackgroundTask(task, func(v *taskValue) *string {
		s := "n=7"
		if v.N != 7 {
			s = "wrong"
		}
		return &s
	})
	assert.NotNil(t, mapped.timeout)
	mapped.OnSuccess(func(s string) { got = s }).Run()
	assert.Equal(t, "n=7", got)
}

type pipeActor struct {
	results chan taskValue
}

func (a *pipeActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case string:
		NewBackgroundTask(ctx, func() (*taskValue, error) {
			return &taskValue{N: len(msg)}, nil
		}).PipeTo(ctx.Self())
	case taskValue:
		a.results <- msg
	}
}

func TestPipeTo(t *testing.T) {
	as := NewActorSystemWithZapLogger(zap.Must(zap.NewDevelopment()))
	defer as.Shutdown()

	results := make(chan taskValue, 1)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return &pipeActor{results: results} }))
	as.Root.Send(pid, "hello")

	select {
	case v := <-results:
		assert.Equal(t, 5, v.N)
	case <-time.After(5 * time.Second):
		t.Fatal("no result piped")
	}
}
