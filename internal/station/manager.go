// Package station implements EncoderManager: the single decision authority
// for per-tick PCM routing between live upstream audio, grace-period
// silence, and the fallback provider, and the sole caller of the encoder
// supervisor's write_pcm.
//
// Grounded on the teacher's MediaBridge (bridge/media_bridge.go) for the
// "construct collaborators, start/stop them together, never inspect their
// internals" wiring shape, generalized here to a single routing decision
// per tick instead of a SIP<->Telegram bridge.
package station

import (
	"log/slog"
	"sync"
	"time"

	"tower/internal/encoder"
	"tower/internal/fallback"
	"tower/internal/pcmformat"
	"tower/internal/ring"
)

// Mode is the externally-visible OperationalMode of spec §3/§4.5.
type Mode int

const (
	ModeColdStart Mode = iota
	ModeBooting
	ModeLiveInput
	ModeFallback
	ModeRestartRecovery
	ModeOfflineTest
	ModeDegraded
)

func (m Mode) String() string {
	switch m {
	case ModeColdStart:
		return "cold_start"
	case ModeBooting:
		return "booting"
	case ModeLiveInput:
		return "live_input"
	case ModeFallback:
		return "fallback"
	case ModeRestartRecovery:
		return "restart_recovery"
	case ModeOfflineTest:
		return "offline_test"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config controls grace-period timing and whether the encoder subprocess is
// permitted to run at all.
type Config struct {
	GraceSeconds   time.Duration
	EncoderEnabled bool
}

func (c *Config) applyDefaults() {
	if c.GraceSeconds <= 0 {
		c.GraceSeconds = 5 * time.Second
	}
}

// Manager is the EncoderManager of spec §4.5.
type Manager struct {
	cfg Config
	log *slog.Logger

	fallbackProvider *fallback.Provider
	supervisor       *encoder.Supervisor

	offlineTest bool

	mu             sync.Mutex
	lastLiveInstant time.Time
}

// New constructs a Manager. Per spec §4.5's startup order, the caller must
// have already constructed fallbackProvider before supervisor; Manager only
// wires references, it never constructs its own collaborators.
func New(cfg Config, log *slog.Logger, fallbackProvider *fallback.Provider, supervisor *encoder.Supervisor) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:              cfg,
		log:              log,
		fallbackProvider: fallbackProvider,
		supervisor:       supervisor,
		lastLiveInstant:  time.Now(),
	}
}

// Start calls supervisor.start only when encoder_enabled, per spec §4.5's
// startup order. Enabling the encoder in config is itself the permission to
// launch its subprocess, so the supervisor is always started with
// permission granted; when encoder_enabled is false, the manager runs in
// OfflineTest mode instead: the supervisor is never started and poll_mp3
// returns nothing.
func (m *Manager) Start() error {
	if !m.cfg.EncoderEnabled {
		m.mu.Lock()
		m.offlineTest = true
		m.mu.Unlock()
		return nil
	}
	return m.supervisor.Start(true)
}

// Stop stops the underlying supervisor, if it was started.
func (m *Manager) Stop() {
	m.mu.Lock()
	offline := m.offlineTest
	m.mu.Unlock()
	if !offline {
		m.supervisor.Stop()
	}
}

// NextFrame implements the routing policy of spec §4.5, executed atomically
// once per AudioPump tick. It never returns to the caller having done
// nothing: exactly one PCM frame is chosen every tick and written to the
// supervisor. In OfflineTest mode the chosen frame is not written, since the
// supervisor is never started.
func (m *Manager) NextFrame(pcmInRing *ring.Ring) {
	frame, havePcm := pcmInRing.Pop()

	m.mu.Lock()
	if havePcm && pcmformat.IsCanonicalSize(frame) {
		m.lastLiveInstant = time.Now()
	} else {
		if havePcm {
			m.log.Debug("station: dropping malformed PCM frame", "size", len(frame))
		}
		havePcm = false
	}
	since := time.Since(m.lastLiveInstant)
	m.mu.Unlock()

	var emit []byte
	switch {
	case havePcm:
		emit = frame
	case since <= m.cfg.GraceSeconds:
		emit = pcmformat.SilenceFrame()
	default:
		emit = m.fallbackProvider.NextFrame()
	}

	if !m.offlineTestSnapshot() {
		m.supervisor.WritePCM(emit)
	}
}

func (m *Manager) offlineTestSnapshot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offlineTest
}

// PollMP3 proxies the supervisor's MP3 ring. In OfflineTest mode it always
// reports nothing available.
func (m *Manager) PollMP3() ([]byte, bool) {
	if m.offlineTestSnapshot() {
		return nil, false
	}
	return m.supervisor.PollMP3()
}

// EncoderRunning reports whether the encoder subprocess is currently
// Running, for the /status surface's encoder_running field. Always false in
// OfflineTest mode.
func (m *Manager) EncoderRunning() bool {
	if m.offlineTestSnapshot() {
		return false
	}
	return m.supervisor.State() == encoder.Running
}

// Mode derives the externally-visible OperationalMode from supervisor state
// and grace logic, for telemetry.
func (m *Manager) Mode() Mode {
	if m.offlineTestSnapshot() {
		return ModeOfflineTest
	}

	switch m.supervisor.State() {
	case encoder.Stopped, encoder.Starting:
		return ModeColdStart
	case encoder.Booting:
		return ModeBooting
	case encoder.Restarting:
		return ModeRestartRecovery
	case encoder.Failed:
		return ModeDegraded
	case encoder.Running:
		m.mu.Lock()
		since := time.Since(m.lastLiveInstant)
		m.mu.Unlock()
		if since <= m.cfg.GraceSeconds {
			return ModeLiveInput
		}
		return ModeFallback
	default:
		return ModeDegraded
	}
}
