package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientFixture struct {
	client  *FeedbackClient
	device  *fakeDevice
	element *fakeElement
	store   *fakeS3
}

func newTestClient(t *testing.T, presigner Presigner) *clientFixture {
	t.Helper()
	config := testConfig()
	config.BaseURL = "https://feedback.example"

	f := &clientFixture{
		device:  newFakeDevice("audio/webm"),
		element: &fakeElement{},
		store:   newFakeS3(),
	}
	tickers := &manualTickers{}
	f.client = NewFeedbackClient(config, &ClientOptions{
		Capture:       f.device,
		Element:       f.element,
		Uploader:      NewS3Uploader(f.store, config),
		Fetcher:       NewS3Fetcher(f.store, presigner, config),
		Logger:        NewNopLogger(),
		TickerFactory: tickers.factory,
	})
	t.Cleanup(f.client.Cleanup)
	return f
}

func TestClientRecordPreviewAndUpload(t *testing.T) {
	f := newTestClient(t, fakePresigner{})
	ctx := context.Background()

	f.device.trailing = [][]byte{fill(4, 12)}
	artifact, err := f.client.RecordFor(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 12, artifact.Size())
	assert.Equal(t, CaptureStopped, f.client.Recorder().State())

	require.NoError(t, f.client.PreviewRecording(ctx))
	require.Len(t, f.element.loaded, 1)
	assert.True(t, f.element.loaded[0].IsLocal())

	rec, err := f.client.ConfirmUpload(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "feedback/s-1.webm", rec.Key)
	assert.Equal(t, fill(4, 12), f.store.objects["feedback/s-1.webm"].data)
}

func TestClientUploadRetryKeepsTake(t *testing.T) {
	f := newTestClient(t, nil)
	ctx := context.Background()

	f.device.trailing = [][]byte{fill(6, 9)}
	_, err := f.client.RecordFor(ctx, time.Millisecond)
	require.NoError(t, err)

	f.store.putErr = errFake
	_, err = f.client.ConfirmUpload(ctx, "s-1")
	require.Error(t, err)
	assert.True(t, IsRetryableError(err))
	assert.Equal(t, CaptureStopped, f.client.Recorder().State())

	f.store.mu.Lock()
	f.store.putErr = nil
	f.store.mu.Unlock()

	rec, err := f.client.ConfirmUpload(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.Size)
	assert.Equal(t, fill(6, 9), f.store.objects["feedback/s-1.webm"].data)
	_, started, _, _ := f.device.counts()
	assert.Equal(t, 1, started)
}

func TestClientRecordForHonorsContext(t *testing.T) {
	f := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	f.device.trailing = [][]byte{fill(1, 3)}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	artifact, err := f.client.RecordFor(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.Size())
}

func TestClientFeedbackLink(t *testing.T) {
	f := newTestClient(t, nil)

	link, err := f.client.FeedbackLink("s-1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "https://feedback.example/feedback/s-1?name=Ada", link)

	_, err = f.client.FeedbackLink("a/b", "")
	assert.True(t, IsErrorCode(err, ErrCodeInvalidStudent))
}

func TestClientOpenFeedbackStreamsPresignedURL(t *testing.T) {
	f := newTestClient(t, fakePresigner{})
	ctx := context.Background()
	_, err := f.client.Recorder().uploader.Upload(ctx, "s-1", artifactOf(fill(2, 8), "audio/webm"))
	require.NoError(t, err)

	rec, err := f.client.OpenFeedback(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/feedback/s-1.webm", rec.URL)

	src := f.client.Player().Source()
	assert.True(t, src.IsRemote())
	assert.Equal(t, rec.URL, src.RemoteURL)
}

func TestClientOpenFeedbackDownloadsWithoutPresigner(t *testing.T) {
	f := newTestClient(t, nil)
	ctx := context.Background()
	_, err := f.client.Recorder().uploader.Upload(ctx, "s-1", artifactOf(fill(2, 8), "audio/wav"))
	require.NoError(t, err)

	_, err = f.client.OpenFeedback(ctx, "s-1")
	require.NoError(t, err)

	src := f.client.Player().Source()
	require.True(t, src.IsLocal())
	artifact, err := f.client.Handles().Resolve(src.LocalHandle)
	require.NoError(t, err)
	assert.Equal(t, fill(2, 8), artifact.Bytes())
}

func TestClientOpenFeedbackNotFound(t *testing.T) {
	f := newTestClient(t, fakePresigner{})

	_, err := f.client.OpenFeedback(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, f.client.Player().Source().IsZero())
}

func TestClientPlayToEnd(t *testing.T) {
	f := newTestClient(t, fakePresigner{})
	ctx := context.Background()
	_, err := f.client.Recorder().uploader.Upload(ctx, "s-1", artifactOf(fill(2, 8), "audio/webm"))
	require.NoError(t, err)
	_, err = f.client.OpenFeedback(ctx, "s-1")
	require.NoError(t, err)

	go func() {
		for {
			f.element.mu.Lock()
			plays := f.element.plays
			f.element.mu.Unlock()
			if plays > 0 {
				f.element.ended()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, f.client.PlayToEnd(ctx))
	assert.Equal(t, PlaybackEnded, f.client.Player().State())
}

func TestClientPlayToEndCancelled(t *testing.T) {
	f := newTestClient(t, fakePresigner{})
	ctx := context.Background()
	_, err := f.client.Recorder().uploader.Upload(ctx, "s-1", artifactOf(fill(2, 8), "audio/webm"))
	require.NoError(t, err)
	_, err = f.client.OpenFeedback(ctx, "s-1")
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = f.client.PlayToEnd(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PlaybackPaused, f.client.Player().State())
}

func TestClientWithoutBackends(t *testing.T) {
	c := NewFeedbackClient(testConfig(), &ClientOptions{Capture: newFakeDevice("audio/wav"), Logger: NewNopLogger()})
	defer c.Cleanup()

	_, err := c.OpenFeedback(context.Background(), "s-1")
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
	assert.True(t, IsErrorCode(c.PreviewRecording(context.Background()), ErrCodeConfigInvalid))
	assert.True(t, IsErrorCode(c.PlayToEnd(context.Background()), ErrCodeConfigInvalid))
}

func TestClientCleanupReleasesEverything(t *testing.T) {
	f := newTestClient(t, nil)
	ctx := context.Background()

	f.device.trailing = [][]byte{fill(1, 5)}
	_, err := f.client.RecordFor(ctx, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, f.client.PreviewRecording(ctx))
	require.Equal(t, 1, f.client.Handles().Live())

	f.client.Cleanup()
	f.client.Cleanup()

	assert.Equal(t, 0, f.client.Handles().Live())
	assert.True(t, f.element.closed)
	_, _, _, released := f.device.counts()
	assert.Equal(t, 1, released)
}
