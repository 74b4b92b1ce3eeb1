package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/retry"
)

func noop(context.Context) error { return nil }

func TestScheduler_RunsStagesInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "a", Policy: Required, Run: record("a")},
		{Name: "b", Needs: []string{"a"}, Policy: Required, Run: record("b")},
		{Name: "c", Needs: []string{"b"}, Policy: Required, Run: record("c")},
	})

	require.NoError(t, abort)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, OutcomeCompleted, results[name].Outcome)
	}
}

func TestScheduler_IndependentStagesRunConcurrently(t *testing.T) {
	var running, peak int32
	work := func(context.Context) error {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	s := New(nil, 4)
	_, abort := s.Run(context.Background(), []Stage{
		{Name: "a", Policy: Optional, Run: work},
		{Name: "b", Policy: Optional, Run: work},
		{Name: "c", Policy: Optional, Run: work},
	})

	require.NoError(t, abort)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestScheduler_SharedResourceSerializes(t *testing.T) {
	var running, peak int32
	work := func(context.Context) error {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	s := New(nil, 8)
	_, abort := s.Run(context.Background(), []Stage{
		{Name: "identifix", Resource: ResourceSharedBrowser, Policy: Optional, Run: work},
		{Name: "nexpart", Resource: ResourceSharedBrowser, Policy: Optional, Run: work},
		{Name: "prodemand", Resource: ResourceSharedBrowser, Policy: Optional, Run: work},
	})

	require.NoError(t, abort)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestScheduler_RequiredFailureAborts(t *testing.T) {
	downstreamRan := false

	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "vin", Policy: Required, Run: func(context.Context) error {
			return faults.New(faults.CodeVehicleUnresolved, "", "bad vin")
		}},
		{Name: "research", Needs: []string{"vin"}, Policy: Optional, Run: func(context.Context) error {
			downstreamRan = true
			return nil
		}},
	})

	require.Error(t, abort)
	assert.True(t, faults.Is(abort, faults.CodePipelineFailed))
	assert.False(t, downstreamRan)
	assert.Equal(t, OutcomeFailed, results["vin"].Outcome)
	assert.Equal(t, faults.CodeVehicleUnresolved, results["vin"].Code)
	assert.Equal(t, OutcomeSkipped, results["research"].Outcome)
}

func TestScheduler_OptionalFailureDoesNotAbort(t *testing.T) {
	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "research", Policy: Optional, Run: func(context.Context) error {
			return faults.New(faults.CodePlatformDown, "identifix", "down")
		}},
		{Name: "merge", Needs: []string{"research"}, Policy: Required, Run: noop},
	})

	require.NoError(t, abort)
	assert.Equal(t, OutcomeFailed, results["research"].Outcome)
	assert.Equal(t, OutcomeCompleted, results["merge"].Outcome)
}

func TestScheduler_SkipReasonRecordedWithoutRunning(t *testing.T) {
	ran := false
	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "research", Policy: Optional, SkipReason: "PLATFORM_DISABLED", Run: func(context.Context) error {
			ran = true
			return nil
		}},
		{Name: "merge", Needs: []string{"research"}, Policy: Required, Run: noop},
	})

	require.NoError(t, abort)
	assert.False(t, ran)
	assert.Equal(t, OutcomeSkipped, results["research"].Outcome)
	assert.Equal(t, faults.Code("PLATFORM_DISABLED"), results["research"].Code)
	assert.Equal(t, OutcomeCompleted, results["merge"].Outcome)
}

func TestScheduler_StageRetriesPerPolicy(t *testing.T) {
	var calls int32
	policy := retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}

	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "flaky", Policy: Optional, Retry: &policy, Run: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return faults.New(faults.CodeTransient5xx, "", "500")
			}
			return nil
		}},
	})

	require.NoError(t, abort)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, OutcomeCompleted, results["flaky"].Outcome)
}

func TestScheduler_StageBudgetBecomesTimeout(t *testing.T) {
	s := New(nil, 4)
	results, abort := s.Run(context.Background(), []Stage{
		{Name: "slow", Policy: Optional, Timeout: 30 * time.Millisecond, Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		}},
	})

	require.NoError(t, abort)
	assert.Equal(t, OutcomeFailed, results["slow"].Outcome)
	// The stage blew its own budget while the pipeline was still alive.
	assert.Equal(t, faults.CodeTimeout, results["slow"].Code)
}

func TestScheduler_RejectsCycles(t *testing.T) {
	s := New(nil, 4)
	_, err := s.Run(context.Background(), []Stage{
		{Name: "a", Needs: []string{"b"}, Policy: Required, Run: noop},
		{Name: "b", Needs: []string{"a"}, Policy: Required, Run: noop},
	})
	require.Error(t, err)
}

func TestScheduler_RejectsUnknownDependency(t *testing.T) {
	s := New(nil, 4)
	_, err := s.Run(context.Background(), []Stage{
		{Name: "a", Needs: []string{"ghost"}, Policy: Required, Run: noop},
	})
	require.Error(t, err)
}
