package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treestore-io/treestore/internal/util/workerpool"
)

func TestPool_ExecutesSubmittedTasks(t *testing.T) {
	p := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 2, QueueSize: 16})
	defer p.Stop()

	var ran int32
	for i := 0; i < 10; i++ {
		err := p.Submit(workerpool.Task{
			ID: "task",
			Fn: func(context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 10
	}, time.Second, 10*time.Millisecond)

	completed, failed, rejected := p.Stats()
	assert.Equal(t, uint64(10), completed)
	assert.Zero(t, failed)
	assert.Zero(t, rejected)
}

func TestPool_RejectsWhenQueueFull(t *testing.T) {
	p := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	defer p.Stop()

	block := make(chan struct{})
	blocker := workerpool.Task{ID: "blocker", Fn: func(context.Context) error {
		<-block
		return nil
	}}

	// occupy the worker, then fill the queue
	require.NoError(t, p.Submit(blocker))
	require.Eventually(t, func() bool {
		return p.Submit(blocker) != nil
	}, time.Second, time.Millisecond)

	close(block)

	_, _, rejected := p.Stats()
	assert.NotZero(t, rejected)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	p := workerpool.New(&workerpool.Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer p.Stop()

	require.NoError(t, p.Submit(workerpool.Task{
		ID: "explosive",
		Fn: func(context.Context) error { panic("boom") },
	}))

	var ok int32
	require.NoError(t, p.Submit(workerpool.Task{
		ID: "survivor",
		Fn: func(context.Context) error {
			atomic.AddInt32(&ok, 1)
			return nil
		},
	}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ok) == 1
	}, time.Second, 10*time.Millisecond)

	_, failed, _ := p.Stats()
	assert.Equal(t, uint64(1), failed)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := workerpool.New(&workerpool.Config{Name: "test"})
	p.Stop()

	err := p.Submit(workerpool.Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
}
