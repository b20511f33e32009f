// Package pcmformat defines the canonical PCM frame shape shared by every
// component in Tower and small helpers for converting between raw bytes and
// interleaved int16 samples.
//
// Adapted from blitss-sip-tg-bridge/bridge/pcm: that package parameterized
// AudioFormat per call leg (SIP vs Telegram) because it bridged two
// different codecs. Tower has exactly one format system-wide, so the
// per-leg struct collapses into fixed constants.
package pcmformat

import "time"

const (
	// SampleRateHz is the canonical PCM sample rate.
	SampleRateHz = 48000
	// Channels is the canonical channel count (stereo).
	Channels = 2
	// BytesPerSample is the PCM16 sample width in bytes.
	BytesPerSample = 2
	// SamplesPerFrame is the tick size, chosen at build time per spec §3.
	// This is the "current" configuration (1024 samples / ~21.333ms),
	// not the legacy 1152/24ms pair; both are valid per spec, only one may
	// be used, uniformly, across the whole system.
	SamplesPerFrame = 1024

	// FrameBytes is the fixed size of one canonical PCM frame.
	FrameBytes = SamplesPerFrame * Channels * BytesPerSample
)

// TickPeriod is the system's fundamental cadence, SamplesPerFrame/SampleRateHz
// seconds truncated to a whole nanosecond (21.333333ms).
var TickPeriod = time.Duration(SamplesPerFrame) * time.Second / SampleRateHz

// silenceFrame is the precomputed, zero-filled canonical frame shared by
// reference throughout the system (grace-silence, fallback tier, fanout
// pacing filler).
var silenceFrame = make([]byte, FrameBytes)

// SilenceFrame returns the shared zero-filled canonical PCM frame. Callers
// must not mutate the returned slice.
func SilenceFrame() []byte {
	return silenceFrame
}

// IsCanonicalSize reports whether b is exactly one canonical PCM frame.
func IsCanonicalSize(b []byte) bool {
	return len(b) == FrameBytes
}

// BytesToInt16 decodes interleaved little-endian PCM16 bytes into dst,
// reusing dst's backing array when it has enough capacity.
func BytesToInt16(dst []int16, src []byte) []int16 {
	n := len(src) / BytesPerSample
	if cap(dst) < n {
		dst = make([]int16, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(uint16(src[i*2]) | uint16(src[i*2+1])<<8)
	}
	return dst
}

// Int16ToBytes encodes interleaved PCM16 samples into little-endian bytes in
// dst, reusing dst's backing array when it has enough capacity.
func Int16ToBytes(dst []byte, src []int16) []byte {
	need := len(src) * BytesPerSample
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}
	for i, s := range src {
		dst[i*2] = byte(uint16(s))
		dst[i*2+1] = byte(uint16(s) >> 8)
	}
	return dst
}

// DownmixToMono averages interleaved multi-channel PCM16 samples down to a
// single channel.
func DownmixToMono(src []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(src))
		copy(out, src)
		return out
	}
	frames := len(src) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(src[f*channels+c])
		}
		out[f] = int16(sum / int32(channels))
	}
	return out
}

// UpmixToStereo duplicates a mono PCM16 stream across both channels. When
// src already has 2+ channels, only the first channel is duplicated.
func UpmixToStereo(src []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(src)*2)
		for i, v := range src {
			out[i*2] = v
			out[i*2+1] = v
		}
		return out
	}
	frames := len(src) / channels
	out := make([]int16, frames*2)
	for f := 0; f < frames; f++ {
		v := src[f*channels]
		out[f*2] = v
		out[f*2+1] = v
	}
	return out
}

// Resample performs simple linear resampling of interleaved stereo PCM16
// samples from inRate to outRate. Used by the fallback file tier when the
// configured file's sample rate differs from canonical.
func Resample(src []int16, channels, inRate, outRate int) []int16 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || channels <= 0 {
		out := make([]int16, len(src))
		copy(out, src)
		return out
	}
	frames := len(src) / channels
	if frames == 0 {
		return nil
	}
	outFrames := int(int64(frames) * int64(outRate) / int64(inRate))
	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * float64(inRate) / float64(outRate)
		i0 := int(srcPos)
		if i0 >= frames-1 {
			i0 = frames - 2
			if i0 < 0 {
				i0 = 0
			}
		}
		frac := srcPos - float64(i0)
		for c := 0; c < channels; c++ {
			a := src[i0*channels+c]
			b := a
			if i0+1 < frames {
				b = src[(i0+1)*channels+c]
			}
			out[i*channels+c] = int16(float64(a) + (float64(b)-float64(a))*frac)
		}
	}
	return out
}
