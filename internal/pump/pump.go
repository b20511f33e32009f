// Package pump implements AudioPump: the single-purpose metronome that
// drives Tower's system clock. It holds only three references (the
// upstream PCM ring, the fallback provider for wiring only, and the
// EncoderManager) and never makes a routing decision itself.
//
// Grounded on the teacher's writeTG goroutine (bridge/media_bridge.go): a
// time.Ticker-paced loop selecting on ctx.Done() alongside the ticker
// channel. AudioPump simplifies that pattern to spec §4.6's monotonic
// absolute-deadline scheme (no drift accumulation) instead of a fixed
// ticker, since the spec explicitly calls out "uses monotonic absolute
// deadlines" as an invariant a plain time.Ticker cannot guarantee under
// scheduler jitter.
package pump

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tower/internal/fallback"
	"tower/internal/ring"
)

// Router is the subset of station.Manager the pump depends on. Defined
// here (not imported from the station package) to keep AudioPump's three
// references exactly as narrow as spec §4.6 requires.
type Router interface {
	NextFrame(pcmInRing *ring.Ring)
}

// Pump is the AudioPump metronome of spec §4.6.
type Pump struct {
	log *slog.Logger

	pcmInRing *ring.Ring
	fallback  *fallback.Provider // held for fallthrough wiring only, never called
	router    Router

	tickPeriod time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Pump. tickPeriod is normally pcmformat.TickPeriod; it is
// a parameter (not a hardcoded import) so tests can run the loop at an
// accelerated rate.
func New(log *slog.Logger, pcmInRing *ring.Ring, fallbackProvider *fallback.Provider, router Router, tickPeriod time.Duration) *Pump {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pump{
		log:        log,
		pcmInRing:  pcmInRing,
		fallback:   fallbackProvider,
		router:     router,
		tickPeriod: tickPeriod,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the metronome goroutine.
func (p *Pump) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop cancels the metronome and waits for it to exit.
func (p *Pump) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pump) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		// Computed fresh every iteration from the current time, not
		// accumulated from a fixed start: a slow tick never builds a sleep
		// backlog (spec §4.6: "monotonic absolute deadlines... no
		// cumulative drift").
		nextTick := time.Now().Add(p.tickPeriod)

		p.tickOnce()

		now := time.Now()
		if now.Before(nextTick) {
			timer := time.NewTimer(nextTick.Sub(now))
			select {
			case <-p.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			p.log.Warn("audio pump behind schedule, resyncing", "behind_by", now.Sub(nextTick))
		}
	}
}

// tickOnce calls the router exactly once, per spec §4.6 step 2. Write
// errors surfaced as panics from collaborators are never expected (every
// collaborator method here returns no error by contract), but a defensive
// recover still logs and pauses rather than letting the metronome die.
func (p *Pump) tickOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("audio pump tick failed, pausing", "panic", r)
			time.Sleep(100 * time.Millisecond)
		}
	}()
	p.router.NextFrame(p.pcmInRing)
}
