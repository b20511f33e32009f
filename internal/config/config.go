// Package config loads Tower's on-disk configuration, in the same shape as
// the teacher's bridge.LoadConfig: an unexported yamlConfig struct carries
// the on-disk field names, a defaults-first Config struct is populated and
// validated field by field, and every error is wrapped with context.
//
// Grounded directly on blitss-sip-tg-bridge/bridge/config.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultGraceSeconds     = 5 * time.Second
	defaultClientTimeout    = 250 * time.Millisecond
	defaultStartupTimeout   = 1500 * time.Millisecond
	defaultStallThreshold   = 2000 * time.Millisecond
	defaultMaxRestarts      = 5
	defaultToneFrequencyHz  = 440.0
	defaultBitrateKbps      = 128
	defaultIngestListenAddr = "127.0.0.1:9700"
	defaultHTTPListenAddr   = ":8080"
)

// defaultEncoderCommand builds spec §11's default ffmpeg invocation,
// forcing raw s16le input and packetized mp3 output at the chosen bitrate
// so ffmpeg never auto-probes or buffers across frame boundaries.
func defaultEncoderCommand(bitrateKbps int) []string {
	return strings.Fields(fmt.Sprintf(
		"ffmpeg -f s16le -ar 48000 -ac 2 -i pipe:0 -f mp3 -b:a %dk -flush_packets 1 pipe:1",
		bitrateKbps,
	))
}

var defaultBackoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
}

// Config is the fully resolved, validated configuration every collaborator
// in internal/runtime is built from. Nothing downstream reads a flag or a
// YAML key directly.
type Config struct {
	GraceSeconds time.Duration

	ClientTimeout          time.Duration
	EncoderStartupTimeout  time.Duration
	EncoderStallThreshold  time.Duration
	EncoderMaxRestarts     int
	EncoderBackoffSchedule []time.Duration
	EncoderEnabled         bool
	EncoderCommand         []string

	AllowSubprocessInTests bool

	FallbackFilePath string
	ToneFrequencyHz  float64
	BitrateKbps      int

	IngestListenAddr    string
	HTTPListenAddr      string
	AllowSourceOverride bool
}

type yamlConfig struct {
	Station struct {
		GraceSeconds float64 `yaml:"grace_seconds"`
	} `yaml:"station"`
	Encoder struct {
		Enabled             *bool    `yaml:"enabled"`
		Command             string   `yaml:"command"`
		StartupTimeoutMs    int      `yaml:"startup_timeout_ms"`
		StallThresholdMs    int      `yaml:"stall_threshold_ms"`
		MaxRestarts         int      `yaml:"max_restarts"`
		BackoffScheduleSecs []float64 `yaml:"backoff_schedule_secs"`
	} `yaml:"encoder"`
	Fallback struct {
		FilePath      string  `yaml:"file_path"`
		ToneFrequency float64 `yaml:"tone_frequency_hz"`
	} `yaml:"fallback"`
	Output struct {
		BitrateKbps int `yaml:"bitrate_kbps"`
	} `yaml:"output"`
	Ingest struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"ingest"`
	HTTP struct {
		ListenAddr          string `yaml:"listen_addr"`
		AllowSourceOverride bool   `yaml:"allow_source_override"`
	} `yaml:"http"`
	Testing struct {
		ClientTimeoutMs        int  `yaml:"client_timeout_ms"`
		AllowSubprocessInTests bool `yaml:"allow_subprocess_in_tests"`
	} `yaml:"testing"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (Config, error) {
	cfg := Config{
		GraceSeconds:           defaultGraceSeconds,
		ClientTimeout:          defaultClientTimeout,
		EncoderStartupTimeout:  defaultStartupTimeout,
		EncoderStallThreshold:  defaultStallThreshold,
		EncoderMaxRestarts:     defaultMaxRestarts,
		EncoderBackoffSchedule: defaultBackoffSchedule,
		EncoderEnabled:         true,
		ToneFrequencyHz:        defaultToneFrequencyHz,
		BitrateKbps:            defaultBitrateKbps,
		IngestListenAddr:       defaultIngestListenAddr,
		HTTPListenAddr:         defaultHTTPListenAddr,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.Station.GraceSeconds > 0 {
		cfg.GraceSeconds = time.Duration(yc.Station.GraceSeconds * float64(time.Second))
	}

	// encoder.enabled is a *bool so an omitted key keeps the defaults-first
	// EncoderEnabled=true rather than being indistinguishable from an
	// explicit "enabled: false".
	switch {
	case yc.Encoder.Enabled != nil:
		cfg.EncoderEnabled = *yc.Encoder.Enabled
	case yc.Encoder.Command != "":
		cfg.EncoderEnabled = true
	}
	if yc.Encoder.Command != "" {
		fields := strings.Fields(yc.Encoder.Command)
		if len(fields) == 0 {
			return Config{}, errors.New("encoder.command must not be blank")
		}
		cfg.EncoderCommand = fields
	}
	if yc.Encoder.StartupTimeoutMs > 0 {
		cfg.EncoderStartupTimeout = time.Duration(yc.Encoder.StartupTimeoutMs) * time.Millisecond
	}
	if yc.Encoder.StallThresholdMs > 0 {
		cfg.EncoderStallThreshold = time.Duration(yc.Encoder.StallThresholdMs) * time.Millisecond
	}
	if yc.Encoder.MaxRestarts > 0 {
		cfg.EncoderMaxRestarts = yc.Encoder.MaxRestarts
	}
	if len(yc.Encoder.BackoffScheduleSecs) > 0 {
		schedule := make([]time.Duration, len(yc.Encoder.BackoffScheduleSecs))
		for i, secs := range yc.Encoder.BackoffScheduleSecs {
			if secs <= 0 {
				return Config{}, fmt.Errorf("encoder.backoff_schedule_secs[%d] must be positive, got %v", i, secs)
			}
			schedule[i] = time.Duration(secs * float64(time.Second))
		}
		cfg.EncoderBackoffSchedule = schedule
	}

	cfg.FallbackFilePath = yc.Fallback.FilePath
	if yc.Fallback.ToneFrequency > 0 {
		cfg.ToneFrequencyHz = yc.Fallback.ToneFrequency
	}

	if yc.Output.BitrateKbps > 0 {
		cfg.BitrateKbps = yc.Output.BitrateKbps
	}
	if len(cfg.EncoderCommand) == 0 {
		cfg.EncoderCommand = defaultEncoderCommand(cfg.BitrateKbps)
	}

	if yc.Ingest.ListenAddr != "" {
		cfg.IngestListenAddr = yc.Ingest.ListenAddr
	}

	if yc.HTTP.ListenAddr != "" {
		cfg.HTTPListenAddr = yc.HTTP.ListenAddr
	}
	cfg.AllowSourceOverride = yc.HTTP.AllowSourceOverride

	if yc.Testing.ClientTimeoutMs > 0 {
		cfg.ClientTimeout = time.Duration(yc.Testing.ClientTimeoutMs) * time.Millisecond
	}
	cfg.AllowSubprocessInTests = yc.Testing.AllowSubprocessInTests

	return cfg, nil
}
