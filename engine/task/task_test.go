package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLaunchWaitsForPrerequisites(t *testing.T) {
	s := NewScheduler(WithWorkers(2))

	release := make(chan struct{})
	var order []string
	first := s.Launch("first", nil, func() error {
		<-release
		order = append(order, "first")
		return nil
	})
	second := s.Launch("second", []*Handle{first}, func() error {
		order = append(order, "second")
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	require.False(t, first.Done())
	require.False(t, second.Done())

	close(release)
	require.NoError(t, second.Wait())
	require.True(t, first.Done())
	require.Equal(t, []string{"first", "second"}, order)
}

func TestLaunchSingleWorkerChain(t *testing.T) {
	s := NewScheduler(WithWorkers(1))

	var counter atomic.Int32
	prev := Completed()
	for range 20 {
		prev = s.Launch("step", []*Handle{prev}, func() error {
			counter.Add(1)
			return nil
		})
	}
	require.NoError(t, prev.Wait())
	require.Equal(t, int32(20), counter.Load())
}

func TestLaunchReturnsTaskError(t *testing.T) {
	s := NewScheduler()

	failing := s.Launch("failing", nil, func() error {
		return errors.New("boom").WithType(common.ErrTypeCapacityExceeded)
	})
	err := failing.Wait()
	require.True(t, errors.IsType(err, common.ErrTypeCapacityExceeded))

	// Dependents still run.
	after := s.Launch("after", []*Handle{failing, nil}, func() error { return nil })
	require.NoError(t, after.Wait())
}

func TestLaunchRecoversPanics(t *testing.T) {
	s := NewScheduler(WithInline(true))
	require.Zero(t, s.Workers())

	h := s.Launch("panicking", nil, func() error {
		panic("bad state")
	})
	require.True(t, h.Done())
	err := h.Wait()
	require.Error(t, err)
	require.True(t, errors.IsType(err, common.ErrTypeInvariant))
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	require.True(t, h.Done())
	require.NoError(t, h.Wait())
	require.Empty(t, h.Label())
}
