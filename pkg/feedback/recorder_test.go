package feedback

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T, dev *fakeDevice, up Uploader, config *FeedbackConfig) (*RecorderController, *manualTickers) {
	t.Helper()
	if config == nil {
		config = testConfig()
	}
	tickers := &manualTickers{}
	rec := NewRecorderController(dev, up, config,
		WithTickerFactory(tickers.factory),
		WithRecorderLogger(NewNopLogger()),
	)
	t.Cleanup(rec.Close)
	return rec, tickers
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestRecorderAssemblesFragmentsInOrder(t *testing.T) {
	dev := newFakeDevice("audio/webm;codecs=opus")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, CaptureRecording, rec.State())

	dev.emit(fill(1, 10))
	dev.emit(fill(2, 20))
	dev.emit(fill(3, 15))

	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, CaptureStopped, rec.State())
	assert.Equal(t, 45, artifact.Size())
	assert.Equal(t, "audio/webm;codecs=opus", artifact.MimeType)

	want := append(append(fill(1, 10), fill(2, 20)...), fill(3, 15)...)
	assert.Equal(t, want, artifact.Bytes())

	handle := rec.PreviewHandle()
	assert.True(t, rec.Handles().IsLive(handle))
	assert.Equal(t, 1, rec.Handles().Live())

	resolved, err := rec.Handles().Resolve(handle)
	require.NoError(t, err)
	assert.Same(t, artifact, resolved)

	_, _, stopped, released := dev.counts()
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 1, released)
}

func TestRecorderIgnoresEmptyFragments(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(nil)
	dev.emit([]byte{})
	dev.emit(fill(9, 4))

	assert.Equal(t, 1, rec.Snapshot().ChunkCount)
	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 4, artifact.Size())
}

func TestRecorderIncludesTrailingFragmentFromStop(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 8))
	dev.trailing = [][]byte{fill(2, 5)}

	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, append(fill(1, 8), fill(2, 5)...), artifact.Bytes())
}

func TestRecorderDropsLateFragments(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 10))
	artifact, err := rec.Stop()
	require.NoError(t, err)

	dev.emit(fill(7, 100))

	assert.Equal(t, 10, artifact.Size())
	assert.Equal(t, 10, rec.Artifact().Size())
	assert.Equal(t, 1, rec.Snapshot().DroppedChunks)
}

func TestRecorderStartWhileRecording(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	err := rec.Start(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRecording))
	assert.Equal(t, CaptureRecording, rec.State())
	opened, _, _, _ := dev.counts()
	assert.Equal(t, 1, opened)
}

func TestRecorderDeviceDenied(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	dev.openErr = errors.New("permission denied")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	var states []CaptureState
	var mu sync.Mutex
	rec.AddStateHandler(func(s CaptureState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	var reported *FeedbackError
	rec.AddErrorHandler(func(err *FeedbackError) { reported = err })

	err := rec.Start(context.Background())

	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeDeviceAccess))
	assert.Equal(t, CaptureIdle, rec.State())
	assert.Nil(t, rec.Artifact())
	assert.Equal(t, "", rec.PreviewHandle())
	require.NotNil(t, reported)
	assert.Equal(t, ErrCodeDeviceAccess, reported.Code)

	_, started, _, released := dev.counts()
	assert.Equal(t, 0, started)
	assert.Equal(t, 1, released)

	mu.Lock()
	assert.Equal(t, []CaptureState{CaptureRequesting, CaptureIdle}, states)
	mu.Unlock()
}

func TestRecorderStartFailureReleasesDevice(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	dev.startErr = errors.New("encoder busy")
	rec, tickers := newTestRecorder(t, dev, nil, nil)

	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceAccess))
	assert.Equal(t, CaptureIdle, rec.State())
	assert.Nil(t, tickers.last())

	_, _, _, released := dev.counts()
	assert.Equal(t, 1, released)
}

func TestRecorderStopWithoutFragments(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	artifact, err := rec.Stop()

	assert.Nil(t, artifact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyArtifact))
	assert.Equal(t, CaptureIdle, rec.State())
	assert.Equal(t, 0, rec.Handles().Live())
}

func TestRecorderStopOutsideRecording(t *testing.T) {
	rec, _ := newTestRecorder(t, newFakeDevice(), nil, nil)

	_, err := rec.Stop()
	assert.True(t, IsErrorCode(err, ErrCodeInvalidState))
}

func TestRecorderNegotiatesMimeType(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		prefs     []string
		fallback  string
		want      string
	}{
		{"first preference", []string{"audio/webm;codecs=opus", "audio/mp4"}, nil, "", "audio/webm;codecs=opus"},
		{"second preference", []string{"audio/mp4"}, nil, "", "audio/mp4"},
		{"nothing supported", nil, nil, "audio/ogg", "audio/ogg"},
		{"custom order", []string{"audio/mp4", "audio/wav"}, []string{"audio/wav", "audio/mp4"}, "", "audio/wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.supported...)
			config := testConfig()
			if tt.prefs != nil {
				config.MimePreferences = tt.prefs
			}
			if tt.fallback != "" {
				config.FallbackMimeType = tt.fallback
			}
			rec, _ := newTestRecorder(t, dev, nil, config)

			require.NoError(t, rec.Start(context.Background()))
			dev.emit(fill(1, 3))
			artifact, err := rec.Stop()
			require.NoError(t, err)
			assert.Equal(t, tt.want, artifact.MimeType)
			assert.Equal(t, tt.want, dev.mimeType)
		})
	}
}

func TestRecorderElapsedTicks(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, tickers := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	for i := 0; i < 3; i++ {
		tickers.tick()
	}
	require.Eventually(t, func() bool { return rec.ElapsedSeconds() == 3 }, time.Second, time.Millisecond)

	dev.emit(fill(1, 1))
	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.ElapsedSeconds)
	assert.True(t, tickers.last().isStopped())
	assert.Equal(t, 3, rec.ElapsedSeconds())
}

func TestRecorderStopsAtMaximumLength(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	config := testConfig()
	config.MaxRecordingSeconds = 2
	rec, tickers := newTestRecorder(t, dev, nil, config)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 6))
	tickers.tick()
	tickers.tick()

	require.Eventually(t, func() bool { return rec.State() == CaptureStopped }, time.Second, time.Millisecond)
	assert.Equal(t, 6, rec.Artifact().Size())
	assert.Equal(t, 2, rec.Artifact().ElapsedSeconds)
}

func TestRecorderDiscard(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 10))
	_, err := rec.Stop()
	require.NoError(t, err)
	handle := rec.PreviewHandle()

	require.NoError(t, rec.Discard())

	assert.Equal(t, CaptureIdle, rec.State())
	assert.Equal(t, 0, rec.ElapsedSeconds())
	assert.Nil(t, rec.Artifact())
	assert.False(t, rec.Handles().IsLive(handle))
	_, err = rec.Handles().Resolve(handle)
	assert.True(t, errors.Is(err, ErrHandleReleased))

	// Discarding again is a no-op.
	assert.NoError(t, rec.Discard())
}

func TestRecorderDiscardWhileRecording(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	err := rec.Discard()
	assert.True(t, IsErrorCode(err, ErrCodeInvalidState))
	assert.Equal(t, CaptureRecording, rec.State())
}

func TestRecorderReRecordDropsPreviousTake(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 10))
	_, err := rec.Stop()
	require.NoError(t, err)
	first := rec.PreviewHandle()

	require.NoError(t, rec.Start(context.Background()))
	assert.False(t, rec.Handles().IsLive(first))
	assert.Equal(t, 0, rec.Snapshot().ChunkCount)

	dev.emit(fill(2, 7))
	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, fill(2, 7), artifact.Bytes())
	assert.Equal(t, 1, rec.Handles().Live())
}

func TestRecorderConfirmUploads(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	up := newFakeUploader()
	rec, _ := newTestRecorder(t, dev, up, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(4, 12))
	_, err := rec.Stop()
	require.NoError(t, err)
	handle := rec.PreviewHandle()

	record, err := rec.Confirm(context.Background(), "s-1")
	require.NoError(t, err)

	assert.Equal(t, "feedback/s-1.webm", record.Key)
	assert.Equal(t, fill(4, 12), up.uploads["s-1"])
	assert.Equal(t, "audio/webm", up.mimes["s-1"])
	assert.Equal(t, CaptureIdle, rec.State())
	assert.False(t, rec.Handles().IsLive(handle))
}

func TestRecorderConfirmFailureKeepsArtifact(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	up := newFakeUploader()
	up.err = errFake
	rec, _ := newTestRecorder(t, dev, up, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(4, 12))
	artifact, err := rec.Stop()
	require.NoError(t, err)
	handle := rec.PreviewHandle()

	_, err = rec.Confirm(context.Background(), "s-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpload))
	assert.True(t, errors.Is(err, errFake))
	assert.True(t, IsRetryableError(err))

	assert.Equal(t, CaptureStopped, rec.State())
	assert.Same(t, artifact, rec.Artifact())
	assert.True(t, rec.Handles().IsLive(handle))

	up.err = nil
	_, err = rec.Confirm(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls)
	assert.Equal(t, CaptureIdle, rec.State())
}

func TestRecorderConfirmRejectsBadInput(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	up := newFakeUploader()
	rec, _ := newTestRecorder(t, dev, up, nil)

	_, err := rec.Confirm(context.Background(), "s-1")
	assert.True(t, IsErrorCode(err, ErrCodeInvalidState))

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 1))
	_, err = rec.Stop()
	require.NoError(t, err)

	for _, id := range []string{"", "a/b", "..", " s-1"} {
		_, err = rec.Confirm(context.Background(), id)
		assert.True(t, IsErrorCode(err, ErrCodeInvalidStudent), id)
	}
	assert.Equal(t, 0, up.calls)
	assert.Equal(t, CaptureStopped, rec.State())
}

func TestRecorderCloseWhileRecording(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, tickers := newTestRecorder(t, dev, nil, nil)

	require.NoError(t, rec.Start(context.Background()))
	dev.emit(fill(1, 5))
	rec.Close()

	assert.Equal(t, CaptureIdle, rec.State())
	assert.Nil(t, tickers.last())
	_, _, stopped, released := dev.counts()
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 1, released)

	dev.emit(fill(2, 5))
	assert.Equal(t, 0, rec.Snapshot().ChunkCount)
}

func TestRecorderCloseDuringPermissionPrompt(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)
	dev.openHook = rec.Close

	err := rec.Start(context.Background())

	assert.True(t, IsErrorCode(err, ErrCodeInvalidState))
	assert.Equal(t, CaptureIdle, rec.State())
	_, started, _, released := dev.counts()
	assert.Equal(t, 0, started)
	assert.GreaterOrEqual(t, released, 1)
}

func TestRecorderStateHandlerUnsubscribe(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, _ := newTestRecorder(t, dev, nil, nil)

	count := 0
	unsubscribe := rec.AddStateHandler(func(CaptureState) { count++ })
	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, 2, count)

	unsubscribe()
	dev.emit(fill(1, 1))
	_, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecorderStopWhileDeviceStarting(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, tickers := newTestRecorder(t, dev, nil, nil)

	var stopErr error
	dev.startHook = func() { _, stopErr = rec.Stop() }

	require.NoError(t, rec.Start(context.Background()))
	assert.True(t, IsErrorCode(stopErr, ErrCodeInvalidState))
	assert.Equal(t, CaptureRecording, rec.State())

	_, _, stopped, released := dev.counts()
	assert.Equal(t, 0, stopped)
	assert.Equal(t, 0, released)
	require.NotNil(t, tickers.last())

	dev.emit(fill(1, 4))
	artifact, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, fill(1, 4), artifact.Bytes())
}

func TestRecorderCloseWhileDeviceStarting(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, tickers := newTestRecorder(t, dev, nil, nil)

	var mu sync.Mutex
	var states []CaptureState
	rec.AddStateHandler(func(s CaptureState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	dev.startHook = rec.Close

	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidState))
	assert.Equal(t, CaptureIdle, rec.State())
	assert.Nil(t, tickers.last())

	_, started, stopped, released := dev.counts()
	assert.Equal(t, 1, started)
	// Close stops the device and Start stops it again once Start returns.
	assert.GreaterOrEqual(t, stopped, 1)
	assert.GreaterOrEqual(t, released, 1)

	dev.emit(fill(1, 8))
	assert.Nil(t, rec.Artifact())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, CaptureRecording)
}

func TestRecorderConcatenatesAnyFragmentSequence(t *testing.T) {
	dev := newFakeDevice("audio/webm")
	rec, tickers := newTestRecorder(t, dev, nil, nil)
	rng := rand.New(rand.NewSource(42))

	sequences := [][]int{
		{1},
		{1, 1, 1},
		{4096},
		{10, 20, 15},
		{1, 1000, 1, 1000},
	}
	for i := 0; i < 40; i++ {
		n := 1 + rng.Intn(12)
		sizes := make([]int, n)
		for j := range sizes {
			sizes[j] = 1 + rng.Intn(300)
		}
		sequences = append(sequences, sizes)
	}

	var previous string
	for i, sizes := range sequences {
		require.NoError(t, rec.Start(context.Background()), "take %d", i)

		var want []byte
		ticks := 0
		for j, size := range sizes {
			chunk := make([]byte, size)
			rng.Read(chunk)
			dev.emit(chunk)
			want = append(want, chunk...)
			if j%3 == 0 {
				tickers.tick()
				ticks++
			}
		}
		require.Eventually(t, func() bool { return rec.ElapsedSeconds() == ticks },
			time.Second, time.Millisecond, "take %d", i)

		artifact, err := rec.Stop()
		require.NoError(t, err, "take %d", i)
		assert.Equal(t, len(want), artifact.Size(), "take %d", i)
		assert.Equal(t, want, artifact.Bytes(), "take %d", i)
		assert.Equal(t, 1, rec.Handles().Live(), "take %d", i)
		if previous != "" {
			assert.False(t, rec.Handles().IsLive(previous), "take %d", i)
		}
		previous = rec.PreviewHandle()
	}
}
