package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/queue"
)

func TestDispatcher_AtMostOneRunningPerProject(t *testing.T) {
	d := queue.New(nil)
	project := uuid.New()

	var mu sync.Mutex
	concurrent := 0
	maxConcurrent := 0
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		d.Add(uuid.New(), project, 0, func() {
			defer wg.Done()
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
		})
	}

	wg.Wait()
	assert.Equal(t, 1, maxConcurrent)
}

func TestDispatcher_CrossProjectParallelism(t *testing.T) {
	d := queue.New(nil)
	a, b := uuid.New(), uuid.New()

	startedA := make(chan struct{})
	releaseA := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	d.Add(uuid.New(), a, 0, func() {
		defer wg.Done()
		close(startedA)
		<-releaseA
	})

	<-startedA

	doneB := make(chan struct{})
	wg.Add(1)
	d.Add(uuid.New(), b, 0, func() {
		defer wg.Done()
		close(doneB)
	})

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("project B work did not run while project A was in flight")
	}

	close(releaseA)
	wg.Wait()
}

func TestDispatcher_PriorityOrdering(t *testing.T) {
	d := queue.New(nil)
	project := uuid.New()

	var order []string
	var mu sync.Mutex
	block := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the processor so the next three Adds queue up together.
	wg.Add(1)
	d.Add(uuid.New(), project, 0, func() {
		defer wg.Done()
		<-block
	})

	wg.Add(3)
	d.Add(uuid.New(), project, 0, func() { defer wg.Done(); mu.Lock(); order = append(order, "webhook-1"); mu.Unlock() })
	d.Add(uuid.New(), project, 10, func() { defer wg.Done(); mu.Lock(); order = append(order, "manual"); mu.Unlock() })
	d.Add(uuid.New(), project, 0, func() { defer wg.Done(); mu.Lock(); order = append(order, "webhook-2"); mu.Unlock() })

	close(block)
	wg.Wait()

	require.Equal(t, []string{"manual", "webhook-1", "webhook-2"}, order)
}

func TestDispatcher_CancelPending(t *testing.T) {
	d := queue.New(nil)
	project := uuid.New()

	block := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	d.Add(uuid.New(), project, 0, func() {
		defer wg.Done()
		close(started)
		<-block
	})
	<-started

	d.Add(uuid.New(), project, 0, func() {})
	d.Add(uuid.New(), project, 0, func() {})

	n := d.CancelPending(project)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, d.CancelPending(project))

	close(block)
	wg.Wait()
}

func TestDispatcher_StatusReportsPendingAndRunning(t *testing.T) {
	d := queue.New(nil)
	project := uuid.New()

	block := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	d.Add(uuid.New(), project, 0, func() {
		defer wg.Done()
		close(started)
		<-block
	})
	<-started
	d.Add(uuid.New(), project, 0, func() {})

	statuses := d.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, project, statuses[0].ProjectID)
	assert.True(t, statuses[0].Running)
	assert.Equal(t, 1, statuses[0].Pending)

	close(block)
	wg.Wait()
}
