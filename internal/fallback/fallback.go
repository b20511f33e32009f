// Package fallback implements the zero-latency PCM frame source Tower falls
// back to when no live upstream audio is available: a configured audio file
// (highest priority), a continuously-phased 440Hz tone, or silence.
//
// Selection is fixed at construction time and never changes at runtime: if a
// higher tier fails to initialize, the provider permanently uses the next
// tier down. This mirrors the teacher's "no inheritance hierarchy, pattern
// match inside the provider" approach to tagged unions (see design notes in
// SPEC_FULL.md §9) rather than a dynamic-dispatch interface hierarchy.
package fallback

import (
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/go-audio/wav"

	"tower/internal/pcmformat"
)

// Tier names the active fallback source, surfaced read-only for telemetry
// and for §6's /control/source override.
type Tier int

const (
	TierFile Tier = iota
	TierTone
	TierSilence
)

func (t Tier) String() string {
	switch t {
	case TierFile:
		return "file"
	case TierTone:
		return "tone"
	default:
		return "silence"
	}
}

// Provider is the zero-latency PCM frame source described by spec §4.2.
// NextFrame never blocks, never errors, never returns an empty frame.
type Provider struct {
	log *slog.Logger

	mu         sync.Mutex
	tier       Tier
	fileFrames [][]byte
	fileCursor int

	tonePhase     float64
	toneFrequency float64

	// override, when forced is set, selects a specific tier regardless of the
	// startup selection (secondary /control/source feature, spec §9/§12).
	override Tier
	forced   bool
}

// New constructs a Provider. filePath may be empty. toneHz defaults to 440
// when <= 0.
func New(log *slog.Logger, filePath string, toneHz float64) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if toneHz <= 0 {
		toneHz = 440
	}
	p := &Provider{
		log:           log,
		toneFrequency: toneHz,
		tier:          TierSilence,
	}

	if filePath != "" {
		frames, err := loadCanonicalFrames(filePath)
		if err != nil {
			log.Warn("fallback: file tier init failed, degrading to tone", "path", filePath, "error", err)
		} else if len(frames) == 0 {
			log.Warn("fallback: file tier produced no frames, degrading to tone", "path", filePath)
		} else {
			p.fileFrames = frames
			p.tier = TierFile
			return p
		}
	}

	// Tone tier has no fallible initialization of its own; it's always
	// available once the file tier is ruled out.
	p.tier = TierTone
	return p
}

// ActiveTier reports the tier NextFrame currently draws from (considering
// any runtime override).
func (p *Provider) ActiveTier() Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forced {
		return p.override
	}
	return p.tier
}

// SetOverride forces a tier at runtime via /control/source. Passing
// TierFile when no file was loaded silently falls through to the next
// available tier on each call, per the "degrade silently" contract.
func (p *Provider) SetOverride(tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forced = true
	p.override = tier
}

// ClearOverride returns routing to the tier selected at construction.
func (p *Provider) ClearOverride() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forced = false
}

// NextFrame returns exactly one canonical PCM frame. Never blocks, never
// errors, never returns empty.
func (p *Provider) NextFrame() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.tier
	if p.forced {
		active = p.override
	}

	switch active {
	case TierFile:
		if len(p.fileFrames) > 0 {
			frame := p.fileFrames[p.fileCursor]
			p.fileCursor = (p.fileCursor + 1) % len(p.fileFrames)
			return frame
		}
		// Forced into a tier that never initialized: degrade for this call only.
		return p.toneLocked()
	case TierTone:
		return p.toneLocked()
	default:
		return pcmformat.SilenceFrame()
	}
}

// toneLocked generates one frame of the 440Hz (by default) tone, advancing
// the phase accumulator by SamplesPerFrame so consecutive frames are
// phase-continuous (spec §8's phase-continuity invariant). Caller must hold p.mu.
func (p *Provider) toneLocked() []byte {
	frame := make([]byte, pcmformat.FrameBytes)
	step := 2 * math.Pi * p.toneFrequency / pcmformat.SampleRateHz
	phase := p.tonePhase
	for i := 0; i < pcmformat.SamplesPerFrame; i++ {
		sample := int16(math.Sin(phase) * 0.2 * 32767)
		for c := 0; c < pcmformat.Channels; c++ {
			off := (i*pcmformat.Channels + c) * pcmformat.BytesPerSample
			frame[off] = byte(uint16(sample))
			frame[off+1] = byte(uint16(sample) >> 8)
		}
		phase += step
	}
	// Keep phase bounded (modulo 2pi) so it never loses precision over
	// long uptimes.
	p.tonePhase = math.Mod(phase, 2*math.Pi)
	return frame
}

// loadCanonicalFrames decodes a WAV file into memory and slices it into
// canonical-size PCM frames, resampling/remixing once up front if needed.
func loadCanonicalFrames(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil {
		return nil, os.ErrInvalid
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	if channels != pcmformat.Channels {
		if channels > pcmformat.Channels {
			samples = pcmformat.DownmixToMono(samples, channels)
			channels = 1
		}
		if channels == 1 {
			samples = pcmformat.UpmixToStereo(samples, 1)
			channels = pcmformat.Channels
		}
	}

	if buf.Format.SampleRate > 0 && buf.Format.SampleRate != pcmformat.SampleRateHz {
		samples = pcmformat.Resample(samples, channels, buf.Format.SampleRate, pcmformat.SampleRateHz)
	}

	raw := pcmformat.Int16ToBytes(nil, samples)
	if len(raw) < pcmformat.FrameBytes {
		return nil, os.ErrInvalid
	}

	frameCount := len(raw) / pcmformat.FrameBytes
	frames := make([][]byte, frameCount)
	for i := 0; i < frameCount; i++ {
		frame := make([]byte, pcmformat.FrameBytes)
		copy(frame, raw[i*pcmformat.FrameBytes:(i+1)*pcmformat.FrameBytes])
		frames[i] = frame
	}
	return frames, nil
}
