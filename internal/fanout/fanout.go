// Package fanout implements BroadcastFanout: a registry of active MP3
// listeners plus a pacing loop that distributes frames to all of them
// without letting a slow listener delay the others.
//
// Grounded on a reference broadcast-buffer's listener-position bookkeeping
// (per-listener lag/health tracking, sync-point style skip-ahead) and on
// the teacher's channel+goroutine pattern for decoupling a producer from a
// per-destination pace (bridge/pcm/playout_buffer.go). Unlike that
// reference's single shared ring buffer read at arbitrary listener
// offsets, Tower's listeners are few enough and frames small enough that
// a per-listener outbound channel is simpler and still bounded (spec
// §4.7's 64 KiB pending-bytes cap enforces the same backpressure).
package fanout

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tower/internal/mp3"
)

const (
	// maxPendingBytes is the per-listener backpressure cap (spec §4.7).
	maxPendingBytes = 64 * 1024
	// outboxCapacity bounds how many frames may queue before a listener's
	// pending bytes alone would already exceed maxPendingBytes.
	outboxCapacity = 256
)

// Sink is what a registered listener writes MP3 bytes to. http.ResponseWriter
// satisfies this via Write; Flush is called after each write when the
// underlying writer supports it (Echo's response wraps http.Flusher).
type Sink interface {
	io.Writer
}

// Flusher is implemented by sinks that can push partial writes to the
// client immediately (e.g. a streaming HTTP response).
type Flusher interface {
	Flush()
}

// listener is one registered client connection.
type listener struct {
	id     string
	sink   Sink
	flush  Flusher
	outbox chan []byte

	pendingBytes int64
	lastProgress int64 // unix nano, written only by the writer goroutine

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (l *listener) pending() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingBytes
}

func (l *listener) lastProgressTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Unix(0, l.lastProgress)
}

// Fanout is BroadcastFanout.
type Fanout struct {
	log *slog.Logger

	clientTimeout time.Duration
	tickPeriod    time.Duration

	mu        sync.Mutex
	listeners map[string]*listener

	lastFrame []byte
}

// New constructs a Fanout. clientTimeout defaults to 250ms, tickPeriod to
// 24ms, per spec §4.7 and §6.
func New(log *slog.Logger, clientTimeout, tickPeriod time.Duration) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	if clientTimeout <= 0 {
		clientTimeout = 250 * time.Millisecond
	}
	if tickPeriod <= 0 {
		tickPeriod = 24 * time.Millisecond
	}
	return &Fanout{
		log:           log,
		clientTimeout: clientTimeout,
		tickPeriod:    tickPeriod,
		listeners:     make(map[string]*listener),
	}
}

// ListenerCount returns the number of currently registered listeners.
func (f *Fanout) ListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Register adds a new listener. Clients joining mid-stream receive from the
// current moment; there is no backfill. The returned done channel closes
// when the listener is evicted or explicitly unregistered; callers
// (the HTTP handler) should stop writing to sink once it closes.
func (f *Fanout) Register(sink Sink) (id string, done <-chan struct{}) {
	l := &listener{
		id:           uuid.NewString(),
		sink:         sink,
		outbox:       make(chan []byte, outboxCapacity),
		done:         make(chan struct{}),
		lastProgress: time.Now().UnixNano(),
	}
	if fl, ok := sink.(Flusher); ok {
		l.flush = fl
	}

	f.mu.Lock()
	f.listeners[l.id] = l
	f.mu.Unlock()

	go f.writeLoop(l)
	return l.id, l.done
}

// Unregister removes a listener (e.g. on client disconnect detected by the
// HTTP handler's request context).
func (f *Fanout) Unregister(id string) {
	f.mu.Lock()
	l, ok := f.listeners[id]
	if ok {
		delete(f.listeners, id)
	}
	f.mu.Unlock()
	if ok {
		f.evict(l)
	}
}

// writeLoop is the per-listener writer goroutine: it performs the
// (possibly blocking, from the OS's perspective) Write call off the
// dispatcher's hot path, so one slow listener's syscall latency never
// delays frame delivery to the others.
func (f *Fanout) writeLoop(l *listener) {
	for frame := range l.outbox {
		n, err := l.sink.Write(frame)
		l.mu.Lock()
		l.pendingBytes -= int64(len(frame))
		if l.pendingBytes < 0 {
			l.pendingBytes = 0
		}
		l.mu.Unlock()

		if err != nil || n <= 0 {
			// Any non-integer/non-positive progress is treated as zero
			// progress; the stall timer (lastProgress) is simply not
			// advanced, letting the dispatcher's timeout check evict it.
			continue
		}
		if l.flush != nil {
			l.flush.Flush()
		}
		l.mu.Lock()
		l.lastProgress = time.Now().UnixNano()
		l.mu.Unlock()
	}
}

// evict closes a listener's outbox and done channel exactly once.
func (f *Fanout) evict(l *listener) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.outbox)
	close(l.done)
}

// Dispatch delivers one MP3 frame to every registered listener, applying
// the eviction rules of spec §4.7. frame may be nil, meaning no fresh
// frame arrived this tick; Dispatch then falls back to the previously
// delivered frame, or a silent filler frame if none exists yet.
func (f *Fanout) Dispatch(frame []byte) {
	if len(frame) > 0 {
		f.lastFrame = frame
	} else if f.lastFrame != nil {
		frame = f.lastFrame
	} else {
		frame = mp3.SilenceFrame()
	}

	f.mu.Lock()
	snapshot := make([]*listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		snapshot = append(snapshot, l)
	}
	f.mu.Unlock()

	for _, l := range snapshot {
		select {
		case l.outbox <- frame:
			l.mu.Lock()
			l.pendingBytes += int64(len(frame))
			l.mu.Unlock()
		default:
			// Outbox full: listener is already behind; pendingBytes stays
			// as-is and the eviction check below will catch it.
		}

		if l.pending() > maxPendingBytes || time.Since(l.lastProgressTime()) > f.clientTimeout {
			f.log.Info("fanout: evicting slow listener", "listener_id", l.id, "pending_bytes", l.pending())
			f.Unregister(l.id)
		}
	}
}

// Run drives the wall-clock pacing loop described in spec §4.7, pulling
// frames from poll (typically station.Manager.PollMP3) until ctx-like stop
// is signaled via the returned stop function.
func (f *Fanout) Run(poll func() ([]byte, bool)) (stop func()) {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(f.tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				frame, ok := poll()
				if ok {
					f.Dispatch(frame)
				} else {
					f.Dispatch(nil)
				}
			}
		}
	}()

	return func() {
		close(stopCh)
		<-doneCh
	}
}
