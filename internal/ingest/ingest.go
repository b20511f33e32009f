// Package ingest implements the upstream PCM byte-stream transport of spec
// §6, concretely bound (SPEC_FULL.md §10) to a plain TCP listener: exactly
// one connection is treated as active, and a new incoming connection
// replaces the active one rather than being rejected.
//
// Grounded on the teacher's connection-handling shape in
// bridge/endpoints/sip_endpoint.go (accept, spawn a per-connection reader
// goroutine, tear down cleanly on error/EOF) adapted from RTP/SIP framing
// to the fixed-size canonical PCM frame contract.
package ingest

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"tower/internal/pcmformat"
	"tower/internal/ring"
)

// readDeadline bounds each individual read so a half-open socket can never
// wedge the framer goroutine forever.
const readDeadline = 30 * time.Second

// Listener accepts upstream PCM connections and pushes canonical frames
// into a PCM ring.
type Listener struct {
	log     *slog.Logger
	addr    string
	pcmRing *ring.Ring

	mu         sync.Mutex
	activeConn net.Conn
	generation int

	netListener net.Listener
	wg          sync.WaitGroup
	stopped     chan struct{}
}

// New constructs a Listener. It does not start accepting until Start is
// called.
func New(log *slog.Logger, addr string, pcmRing *ring.Ring) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		log:     log,
		addr:    addr,
		pcmRing: pcmRing,
		stopped: make(chan struct{}),
	}
}

// Start binds the TCP listener and begins accepting connections in the
// background.
func (l *Listener) Start() error {
	nl, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.netListener = nl

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener and the active connection, if any, and waits
// for the accept loop and the current reader to exit.
func (l *Listener) Stop() {
	close(l.stopped)
	if l.netListener != nil {
		l.netListener.Close()
	}
	l.mu.Lock()
	if l.activeConn != nil {
		l.activeConn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.netListener.Accept()
		if err != nil {
			select {
			case <-l.stopped:
				return
			default:
				l.log.Warn("ingest: accept failed", "error", err)
				return
			}
		}
		l.replaceActive(conn)
	}
}

// replaceActive closes any existing connection (its reader goroutine exits
// on the resulting error) and starts reading the new one. A new incoming
// connection always replaces the active one, per SPEC_FULL.md §10.
func (l *Listener) replaceActive(conn net.Conn) {
	l.mu.Lock()
	if l.activeConn != nil {
		l.log.Info("ingest: replacing active connection", "remote", conn.RemoteAddr().String())
		l.activeConn.Close()
	}
	l.activeConn = conn
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	l.wg.Add(1)
	go l.readConn(conn, gen)
}

// readConn accumulates bytes until a full canonical frame is available,
// pushing each into the PCM ring with a DropNewest overflow policy. A
// partial frame left when the connection drops is discarded, never
// carried into the next connection.
func (l *Listener) readConn(conn net.Conn, gen int) {
	defer l.wg.Done()
	defer conn.Close()

	buf := make([]byte, 0, pcmformat.FrameBytes)
	chunk := make([]byte, pcmformat.FrameBytes)

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for len(buf) >= pcmformat.FrameBytes {
				frame := make([]byte, pcmformat.FrameBytes)
				copy(frame, buf[:pcmformat.FrameBytes])
				buf = buf[pcmformat.FrameBytes:]
				l.pcmRing.Push(frame)
			}
		}
		if err != nil {
			l.mu.Lock()
			isActive := l.generation == gen
			if isActive {
				l.activeConn = nil
			}
			l.mu.Unlock()
			if err != io.EOF {
				l.log.Debug("ingest: connection read ended", "error", err)
			}
			return
		}
	}
}
