package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCourierOrdering(t *testing.T) {
	c := NewCourier(hclog.NewNullLogger())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, c.Run(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	c.Close()
	<-c.Done()

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestCourierRejectsAfterClose(t *testing.T) {
	c := NewCourier(hclog.NewNullLogger())
	c.Close()
	<-c.Done()
	require.False(t, c.Run(func() {}))
}

func TestCourierDrainsQueueOnClose(t *testing.T) {
	c := NewCourier(hclog.NewNullLogger())

	release := make(chan struct{})
	var ran int32
	c.Run(func() { <-release })
	for i := 0; i < 10; i++ {
		c.Run(func() { atomic.AddInt32(&ran, 1) })
	}
	c.Close()
	close(release)
	<-c.Done()
	require.Equal(t, int32(10), atomic.LoadInt32(&ran))
}

func TestCourierRecoversPanic(t *testing.T) {
	c := NewCourier(hclog.NewNullLogger())
	var ran bool
	c.Run(func() { panic("boom") })
	c.Run(func() { ran = true })
	c.Close()
	<-c.Done()
	require.True(t, ran)
}

func TestPoolRunsWork(t *testing.T) {
	p := NewPool(4)
	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.True(t, p.Run(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		}))
	}
	wg.Wait()
	p.Close()
	require.Equal(t, int32(50), atomic.LoadInt32(&n))
}

func TestPoolCloseWaits(t *testing.T) {
	p := NewPool(2)
	var n int32
	for i := 0; i < 8; i++ {
		p.Run(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&n, 1)
		})
	}
	p.Close()
	require.Equal(t, int32(8), atomic.LoadInt32(&n))
	require.False(t, p.Run(func() {}))
}
