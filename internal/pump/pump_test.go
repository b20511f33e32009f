package pump

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tower/internal/fallback"
	"tower/internal/ring"
)

type countingRouter struct {
	calls atomic.Int64
}

func (r *countingRouter) NextFrame(pcmInRing *ring.Ring) {
	r.calls.Add(1)
}

func TestPump_TicksRouterAtConfiguredPeriod(t *testing.T) {
	router := &countingRouter{}
	fb := fallback.New(nil, "", 440)
	pcmRing := ring.New(4, ring.DropNewest)

	p := New(nil, pcmRing, fb, router, 5*time.Millisecond)
	p.Start()
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	calls := router.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(5), "expected several ticks in 60ms at a 5ms period")
}

func TestPump_StopIsPromptAndIdempotentSafe(t *testing.T) {
	router := &countingRouter{}
	fb := fallback.New(nil, "", 440)
	pcmRing := ring.New(4, ring.DropNewest)

	p := New(nil, pcmRing, fb, router, 5*time.Millisecond)
	p.Start()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop() // a second Stop must neither block nor panic
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

type panickingRouter struct {
	calls atomic.Int64
}

func (r *panickingRouter) NextFrame(pcmInRing *ring.Ring) {
	n := r.calls.Add(1)
	if n == 1 {
		panic("simulated collaborator panic")
	}
}

func TestPump_SurvivesATickPanic(t *testing.T) {
	router := &panickingRouter{}
	fb := fallback.New(nil, "", 440)
	pcmRing := ring.New(4, ring.DropNewest)

	p := New(nil, pcmRing, fb, router, 5*time.Millisecond)
	p.Start()
	time.Sleep(250 * time.Millisecond)
	p.Stop()

	assert.GreaterOrEqual(t, router.calls.Load(), int64(2), "pump must keep ticking after a collaborator panic")
}
