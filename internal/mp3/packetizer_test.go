package mp3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// makeFrame builds a valid synthetic MPEG-1 Layer III frame at the given
// bitrate (kbps) and sample rate (Hz), stereo, no padding, filled with a
// recognizable payload byte so tests can assert on frame boundaries.
func makeFrame(bitrateKbps, sampleRateHz int, payloadByte byte) []byte {
	bitrateIdx := -1
	for i, v := range bitrateTableV1L3 {
		if v == bitrateKbps {
			bitrateIdx = i
			break
		}
	}
	if bitrateIdx < 0 {
		panic("unsupported bitrate in test fixture")
	}
	sampleRateIdx := -1
	for i, v := range sampleRateTableV1 {
		if v == sampleRateHz {
			sampleRateIdx = i
			break
		}
	}
	if sampleRateIdx < 0 {
		panic("unsupported sample rate in test fixture")
	}

	h := header{bitrateKbps: bitrateKbps, sampleRate: sampleRateHz, padding: 0}
	length := h.frameLength()

	frame := make([]byte, length)
	frame[0] = 0xFF
	frame[1] = 0xFB // 111 11 01 1 -> MPEG-1, Layer III, no CRC
	frame[2] = byte(bitrateIdx<<4) | byte(sampleRateIdx<<2)
	frame[3] = 0x00 // stereo, no other flags relevant to length computation
	for i := 4; i < length; i++ {
		frame[i] = payloadByte
	}
	return frame
}

func TestPacketizer_SingleFrameExtracted(t *testing.T) {
	p := New()
	f := makeFrame(128, 44100, 0xAB)

	frames := p.Feed(f)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

func TestPacketizer_FrameSplitAcrossFeeds(t *testing.T) {
	p := New()
	f := makeFrame(128, 44100, 0xCD)

	mid := len(f) / 2
	frames := p.Feed(f[:mid])
	assert.Empty(t, frames, "partial frame must not be emitted early")

	frames = p.Feed(f[mid:])
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

func TestPacketizer_MultipleFramesInOneFeed(t *testing.T) {
	p := New()
	f1 := makeFrame(128, 44100, 0x01)
	f2 := makeFrame(192, 48000, 0x02)
	f3 := makeFrame(64, 32000, 0x03)

	combined := append(append(append([]byte{}, f1...), f2...), f3...)
	frames := p.Feed(combined)

	require.Len(t, frames, 3)
	assert.Equal(t, f1, frames[0].Data)
	assert.Equal(t, f2, frames[1].Data)
	assert.Equal(t, f3, frames[2].Data)
}

func TestPacketizer_ResyncsPastGarbage(t *testing.T) {
	p := New()
	f := makeFrame(128, 44100, 0xEE)
	garbage := []byte{0x00, 0x11, 0x22, 0xFF, 0x00} // includes a false sync candidate

	frames := p.Feed(append(garbage, f...))
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

func TestPacketizer_BufferBoundedOnUnrecoverableGarbage(t *testing.T) {
	p := New()
	garbage := bytes.Repeat([]byte{0x00}, maxBufferBytes*2)
	frames := p.Feed(garbage)
	assert.Empty(t, frames)
	assert.LessOrEqual(t, len(p.buf), maxBufferBytes)
}

func TestPacketizer_ResetDiscardsPartialFrame(t *testing.T) {
	p := New()
	f := makeFrame(128, 44100, 0x77)
	p.Feed(f[:10])
	assert.NotEmpty(t, p.buf)

	p.Reset()
	assert.Empty(t, p.buf)

	frames := p.Feed(f)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

// TestPacketizer_ContiguousSubsequenceProperty is the spec §8 invariant: every
// emitted frame is a contiguous slice of everything fed, the frames appear in
// input order, and each frame's length matches the length computed from its
// own header.
func TestPacketizer_ContiguousSubsequenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bitrates := []int{32, 64, 96, 128, 160, 192, 256, 320}
		rates := []int{32000, 44100, 48000}

		frameCount := rapid.IntRange(0, 8).Draw(t, "frameCount")
		var input []byte
		var expected [][]byte
		for i := 0; i < frameCount; i++ {
			br := bitrates[rapid.IntRange(0, len(bitrates)-1).Draw(t, "br")]
			sr := rates[rapid.IntRange(0, len(rates)-1).Draw(t, "sr")]
			payload := byte(rapid.IntRange(0, 255).Draw(t, "payload"))
			f := makeFrame(br, sr, payload)
			expected = append(expected, f)
			input = append(input, f...)

			if rapid.Bool().Draw(t, "injectGarbage") {
				n := rapid.IntRange(0, 5).Draw(t, "garbageLen")
				garbage := make([]byte, n)
				for j := range garbage {
					garbage[j] = byte(rapid.IntRange(0, 255).Draw(t, "garbageByte"))
				}
				input = append(input, garbage...)
			}
		}

		fed := append([]byte(nil), input...)

		p := New()
		// Feed in randomly sized chunks to exercise split-frame handling.
		var got []Frame
		for len(input) > 0 {
			n := rapid.IntRange(1, len(input)).Draw(t, "chunkLen")
			got = append(got, p.Feed(input[:n])...)
			input = input[n:]
		}

		require.GreaterOrEqual(t, len(got), 0)
		pos := 0
		for _, f := range got {
			h, ok := parseHeader(f.Data)
			require.True(t, ok, "every emitted frame must parse as a valid header")
			assert.Equal(t, h.frameLength(), len(f.Data), "emitted frame length must equal its own header-derived length")

			idx := bytes.Index(fed[pos:], f.Data)
			require.GreaterOrEqual(t, idx, 0, "every emitted frame must be a contiguous slice of the input, in input order")
			pos += idx + len(f.Data)
		}
	})
}
