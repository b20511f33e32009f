// Package runtime is the explicit wiring routine called out in
// SPEC_FULL.md §14 and the design notes of §9: the one place every
// collaborator is constructed and wired together by constructor parameter.
// No package in this tree holds a package-level mutable singleton; anything
// one component needs from another arrives through Build.
//
// Grounded on the teacher's cmd/sip-tg-bridge/main.go, which performs the
// same kind of explicit, ordered construction (config -> collaborators ->
// bridge) before handing control to signal-driven shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tower/internal/config"
	"tower/internal/encoder"
	"tower/internal/fallback"
	"tower/internal/fanout"
	"tower/internal/httpapi"
	"tower/internal/ingest"
	"tower/internal/pcmformat"
	"tower/internal/pump"
	"tower/internal/ring"
	"tower/internal/station"
)

const (
	pcmRingCapacity = 64
	mp3RingCapacity = 512
)

// System is every constructed collaborator plus the Start/Stop lifecycle
// that brings them up and tears them down together, in dependency order.
type System struct {
	log *slog.Logger
	cfg config.Config

	pcmRing *ring.Ring

	fallbackProvider *fallback.Provider
	supervisor       *encoder.Supervisor
	stationManager   *station.Manager
	audioPump        *pump.Pump
	broadcastFanout  *fanout.Fanout
	ingestListener   *ingest.Listener
	httpServer       *httpapi.Server

	stopFanout func()
	stopOnce   sync.Once
}

// Build constructs every Tower collaborator in dependency order and wires
// their references, without starting anything.
func Build(cfg config.Config, log *slog.Logger) (*System, error) {
	if log == nil {
		log = slog.Default()
	}

	pcmRing := ring.New(pcmRingCapacity, ring.DropNewest)

	fallbackProvider := fallback.New(log.With("component", "fallback"), cfg.FallbackFilePath, cfg.ToneFrequencyHz)

	supervisor := encoder.New(encoder.Config{
		Command:               cfg.EncoderCommand,
		StartupTimeout:        cfg.EncoderStartupTimeout,
		StallThreshold:        cfg.EncoderStallThreshold,
		MaxRestarts:           cfg.EncoderMaxRestarts,
		BackoffSchedule:       cfg.EncoderBackoffSchedule,
		ExpectedFrameInterval: pcmformat.TickPeriod,
		AllowSubprocess:       cfg.AllowSubprocessInTests,
		MP3RingCapacity:       mp3RingCapacity,
	}, log.With("component", "encoder"))

	stationManager := station.New(station.Config{
		GraceSeconds:   cfg.GraceSeconds,
		EncoderEnabled: cfg.EncoderEnabled,
	}, log.With("component", "station"), fallbackProvider, supervisor)

	audioPump := pump.New(log.With("component", "pump"), pcmRing, fallbackProvider, stationManager, pcmformat.TickPeriod)

	broadcastFanout := fanout.New(log.With("component", "fanout"), cfg.ClientTimeout, pcmformat.TickPeriod)

	ingestListener := ingest.New(log.With("component", "ingest"), cfg.IngestListenAddr, pcmRing)

	httpServer := httpapi.New(log.With("component", "http"), httpapi.Config{
		AllowSourceOverride: cfg.AllowSourceOverride,
	}, stationManager, pcmRing, broadcastFanout, fallbackProvider)

	return &System{
		log:              log,
		cfg:              cfg,
		pcmRing:          pcmRing,
		fallbackProvider: fallbackProvider,
		supervisor:       supervisor,
		stationManager:   stationManager,
		audioPump:        audioPump,
		broadcastFanout:  broadcastFanout,
		ingestListener:   ingestListener,
		httpServer:       httpServer,
	}, nil
}

// Start brings every collaborator up in dependency order: the station
// manager (which may spawn the encoder subprocess) before the pump that
// feeds it, the pump before the fanout that drains its output, the ingest
// listener last so nothing is dropped between accept and the first tick.
func (s *System) Start(ctx context.Context) error {
	if err := s.stationManager.Start(); err != nil {
		return fmt.Errorf("runtime: station manager start: %w", err)
	}
	s.audioPump.Start()
	s.stopFanout = s.broadcastFanout.Run(s.stationManager.PollMP3)

	if err := s.ingestListener.Start(); err != nil {
		s.Stop()
		return fmt.Errorf("runtime: ingest listener start: %w", err)
	}

	s.log.Info("tower: station started",
		"ingest_addr", s.cfg.IngestListenAddr,
		"http_addr", s.cfg.HTTPListenAddr,
		"encoder_enabled", s.cfg.EncoderEnabled,
	)
	return s.httpServer.Run(ctx, s.cfg.HTTPListenAddr)
}

// Stop tears every collaborator down in reverse dependency order. Safe to
// call even if Start failed partway through, and more than once: only the
// first call tears anything down.
func (s *System) Stop() {
	s.stopOnce.Do(func() {
		s.ingestListener.Stop()
		if s.stopFanout != nil {
			s.stopFanout()
		}
		s.audioPump.Stop()
		s.stationManager.Stop()
	})
}
