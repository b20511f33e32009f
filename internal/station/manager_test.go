package station

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tower/internal/encoder"
	"tower/internal/fallback"
	"tower/internal/pcmformat"
	"tower/internal/ring"
)

func newTestManager(t *testing.T, graceSeconds time.Duration) (*Manager, *ring.Ring) {
	t.Helper()
	fb := fallback.New(nil, "", 440)
	sup := encoder.New(encoder.Config{}, nil) // never started: OfflineTest-equivalent for these tests
	cfg := Config{GraceSeconds: graceSeconds, EncoderEnabled: false}
	mgr := New(cfg, nil, fb, sup)
	require.NoError(t, mgr.Start())
	return mgr, ring.New(8, ring.DropNewest)
}

func TestManager_OfflineTestModeNeverTouchesSupervisor(t *testing.T) {
	mgr, pcmRing := newTestManager(t, 5*time.Second)
	assert.Equal(t, ModeOfflineTest, mgr.Mode())

	mgr.NextFrame(pcmRing)
	_, ok := mgr.PollMP3()
	assert.False(t, ok, "OfflineTest mode must never surface encoder MP3 output")
}

func TestManager_RoutesLiveFrameWhenPresent(t *testing.T) {
	mgr, pcmRing := newTestManager(t, 5*time.Second)
	live := make([]byte, pcmformat.FrameBytes)
	for i := range live {
		live[i] = 0x42
	}
	pcmRing.Push(live)

	mgr.NextFrame(pcmRing)
	// NextFrame always pops at most one frame; in OfflineTest mode the
	// chosen frame is not written to the supervisor, but we can assert the
	// ring was drained (live frame consumed).
	_, ok := pcmRing.Pop()
	assert.False(t, ok, "the single queued live frame must have been consumed")
}

func TestManager_MalformedFrameTreatedAsAbsent(t *testing.T) {
	mgr, pcmRing := newTestManager(t, 5*time.Second)
	pcmRing.Push([]byte{1, 2, 3}) // wrong size

	// Must not panic and must still "do something" (emit grace-silence).
	mgr.NextFrame(pcmRing)
	assert.Equal(t, ModeOfflineTest, mgr.Mode())
}

func TestManager_ModeString(t *testing.T) {
	assert.Equal(t, "live_input", ModeLiveInput.String())
	assert.Equal(t, "fallback", ModeFallback.String())
	assert.Equal(t, "offline_test", ModeOfflineTest.String())
}

// TestManager_StartWithEncoderEnabledLaunchesSupervisorWithoutAnExternalFlag
// guards against a regression where Start's permission to launch the
// encoder subprocess depended on a caller-supplied flag (wired in practice
// from a testing-only config value that defaults to false in production)
// rather than EncoderEnabled itself. `cat` stands in for the real encoder:
// it never produces a valid MP3 sync word, so the supervisor will not reach
// Running here, but Start must still successfully launch it rather than
// returning errSubprocessNotPermitted.
func TestManager_StartWithEncoderEnabledLaunchesSupervisorWithoutAnExternalFlag(t *testing.T) {
	sup := encoder.New(encoder.Config{Command: []string{"cat"}}, nil)
	mgr := New(Config{GraceSeconds: time.Second, EncoderEnabled: true}, nil, fallback.New(nil, "", 440), sup)

	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	assert.NotEqual(t, ModeOfflineTest, mgr.Mode())
	assert.False(t, mgr.EncoderRunning(), "cat never emits a valid MP3 frame, so the encoder must not be reported as running")
}
