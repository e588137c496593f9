package tts_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/core"
	"github.com/book-expert/paperread-tts/internal/tts"
	"github.com/book-expert/paperread-tts/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEngineDown = errors.New("engine down")

type fakeEngine struct {
	calls      atomic.Int32
	durationMS int
	delay      time.Duration
	err        error
}

func (f *fakeEngine) Render(_ context.Context, _ core.SpeechRequest, outputPath string) (int, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)

	if f.err != nil {
		return 0, f.err
	}

	_, err := audio.WriteStub(outputPath)
	if err != nil {
		return 0, err
	}

	return f.durationMS, nil
}

func (f *fakeEngine) Available() bool {
	return true
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	return testLogger
}

func newTestSynthesizer(t *testing.T, engine core.SpeechEngine) (*tts.Synthesizer, *audiocache.Cache) {
	t.Helper()

	root := t.TempDir()
	testLogger := newTestLogger(t)

	index, err := audiocache.NewAudioIndex(filepath.Join(root, "audio_index.json"))
	require.NoError(t, err)

	cache := audiocache.New(root, index, testLogger)
	synth := tts.NewSynthesizer(cache, engine, tts.SynthesizerConfig{
		MediaURLPrefix: "/media/",
		MaxChars:       10,
	}, testLogger)

	return synth, cache
}

func TestSynthesize_RendersOnceAndRecords(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{durationMS: -1}
	synth, cache := newTestSynthesizer(t, engine)

	req := tts.Request{Text: "Hello", VoiceID: "en_US", BookID: "book-1"}

	first, err := synth.Synthesize(context.Background(), req)
	require.NoError(t, err)

	expected := req.KeyInputs().Filename()
	assert.Equal(t, expected, first.Filename)
	assert.Equal(t, filepath.Join(cache.Root(), expected), first.FilePath)
	assert.Equal(t, "/media/"+expected, first.AudioURL)
	require.NotNil(t, first.DurationMS)
	assert.Equal(t, 500, *first.DurationMS)

	second, err := synth.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Filename, second.Filename)
	assert.Equal(t, int32(1), engine.calls.Load(), "cached file must not be rendered again")

	files, err := cache.Index().Files("book-1")
	require.NoError(t, err)
	assert.Equal(t, []string{expected}, files)
}

func TestSynthesize_UsesEngineDuration(t *testing.T) {
	t.Parallel()

	synth, _ := newTestSynthesizer(t, &fakeEngine{durationMS: 1234})

	result, err := synth.Synthesize(context.Background(), tts.Request{Text: "Hi", VoiceID: "v"})
	require.NoError(t, err)
	require.NotNil(t, result.DurationMS)
	assert.Equal(t, 1234, *result.DurationMS)
}

func TestSynthesize_ConcurrentRequestsShareOneRender(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{durationMS: -1, delay: 50 * time.Millisecond}
	synth, _ := newTestSynthesizer(t, engine)

	req := tts.Request{Text: "Same", VoiceID: "v"}

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := synth.Synthesize(context.Background(), req)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestSynthesize_Validation(t *testing.T) {
	t.Parallel()

	synth, _ := newTestSynthesizer(t, &fakeEngine{})

	_, err := synth.Synthesize(context.Background(), tts.Request{VoiceID: "v"})
	require.ErrorIs(t, err, tts.ErrTextEmpty)

	_, err = synth.Synthesize(context.Background(), tts.Request{Text: "x"})
	require.ErrorIs(t, err, tts.ErrVoiceEmpty)

	_, err = synth.Synthesize(context.Background(), tts.Request{Text: "eleven char", VoiceID: "v"})
	require.ErrorIs(t, err, tts.ErrTextTooLong)

	require.NoError(t, synth.Validate(tts.Request{Text: "ünïcödé!!!", VoiceID: "v"}), "limit counts characters, not bytes")
}

func TestSynthesize_EngineError(t *testing.T) {
	t.Parallel()

	synth, cache := newTestSynthesizer(t, &fakeEngine{err: errEngineDown})

	_, err := synth.Synthesize(context.Background(), tts.Request{Text: "Hi", VoiceID: "v", BookID: "b"})
	require.ErrorIs(t, err, errEngineDown)

	files, err := cache.Index().Files("b")
	require.NoError(t, err)
	assert.Empty(t, files)
}

// gatedEngine blocks every render until release is closed.
type gatedEngine struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	ctxErrs chan error
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErrs: make(chan error, 8),
	}
}

func (g *gatedEngine) Render(ctx context.Context, _ core.SpeechRequest, outputPath string) (int, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}

	<-g.release
	g.ctxErrs <- ctx.Err()

	_, err := audio.WriteStub(outputPath)
	if err != nil {
		return 0, err
	}

	return -1, nil
}

func (g *gatedEngine) Available() bool {
	return true
}

func TestSynthesize_CanceledCallerLeavesSharedRenderRunning(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	synth, cache := newTestSynthesizer(t, engine)

	req := tts.Request{Text: "Shared", VoiceID: "v", BookID: "b"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstErr := make(chan error, 1)

	go func() {
		_, err := synth.Synthesize(ctx, req)
		firstErr <- err
	}()

	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "render never started")
	}

	type outcome struct {
		result *tts.Result
		err    error
	}

	second := make(chan outcome, 1)

	go func() {
		result, err := synth.Synthesize(context.Background(), req)
		second <- outcome{result: result, err: err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(engine.release)

	got := <-second
	require.NoError(t, got.err)
	assert.FileExists(t, got.result.FilePath)
	require.NotNil(t, got.result.DurationMS)
	assert.Equal(t, 500, *got.result.DurationMS)

	require.NoError(t, <-engine.ctxErrs, "render context must outlive the canceled caller")
	assert.Equal(t, int32(1), engine.calls.Load())

	files, err := cache.Index().Files("b")
	require.NoError(t, err)
	assert.Equal(t, []string{got.result.Filename}, files)
}
