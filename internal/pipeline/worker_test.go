package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/glossa/internal/embedding"
	"github.com/thebtf/glossa/internal/ocr"
	"github.com/thebtf/glossa/internal/translate"
	"github.com/thebtf/glossa/internal/vocab"
	"github.com/thebtf/glossa/pkg/models"
)

type fakeBackend struct {
	result   translate.Result
	vocab    bool
	panicMsg string
	calls    int
	lastReq  translate.Request
}

func (f *fakeBackend) Translate(_ context.Context, req translate.Request) translate.Result {
	f.calls++
	f.lastReq = req
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result
}

func (f *fakeBackend) SupportsVocabulary() bool { return f.vocab }

func (f *fakeBackend) Name() string { return "fake" }

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ image.Image, _ int) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeRetriever struct {
	matches    []vocab.Match
	err        error
	calls      int
	collection string
	k          int
}

func (f *fakeRetriever) Query(_ context.Context, _ embedding.Embedder, collection, _ string, k int) ([]vocab.Match, error) {
	f.calls++
	f.collection = collection
	f.k = k
	return f.matches, f.err
}

func validEmbedding() embedding.ProviderConfig {
	return embedding.ProviderConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m"}
}

func awaitOutcome(t *testing.T, w *Worker) models.TranslationOutcome {
	t.Helper()
	select {
	case out := <-w.Outcome():
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
		return models.TranslationOutcome{}
	}
}

func TestWorkerTranslatesText(t *testing.T) {
	w := NewWorker(translate.NewMock(), nil, nil)
	require.Equal(t, StateIdle, w.State())

	require.NoError(t, w.Start(context.Background(), Job{Text: "Hello world", TargetLang: "zh-CN"}))

	out := awaitOutcome(t, w)
	assert.False(t, out.Failed())
	assert.Equal(t, "Hello world", out.OriginalText)
	assert.Equal(t, "[MOCK TRANSLATION] Hello world", out.TranslatedText)
	assert.Equal(t, StateSucceeded, w.State())
}

func TestWorkerOutcomeDeliveredExactlyOnce(t *testing.T) {
	w := NewWorker(translate.NewMock(), nil, nil)
	require.NoError(t, w.Start(context.Background(), Job{Text: "hi"}))

	first := awaitOutcome(t, w)
	assert.False(t, first.Failed())

	// Channel is closed after the single delivery
	_, open := <-w.Outcome()
	assert.False(t, open)
}

func TestWorkerRejectsConcurrentStart(t *testing.T) {
	w := NewWorker(translate.NewMock(), nil, nil)
	require.NoError(t, w.Start(context.Background(), Job{Text: "hi"}))

	err := w.Start(context.Background(), Job{Text: "second"})
	assert.ErrorIs(t, err, ErrBusy)

	awaitOutcome(t, w)

	// Workers are single-shot; a finished worker stays unusable
	err = w.Start(context.Background(), Job{Text: "third"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestWorkerOCRNoTextFailsWithoutTranslating(t *testing.T) {
	backend := &fakeBackend{result: translate.Success("never")}
	rec := &fakeRecognizer{err: ocr.ErrNoText}
	w := NewWorker(backend, rec, nil)

	require.NoError(t, w.Start(context.Background(), Job{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}))

	out := awaitOutcome(t, w)
	assert.True(t, out.Failed())
	assert.Equal(t, "no text recognized", out.Error)
	assert.Equal(t, StateFailed, w.State())
	assert.Zero(t, backend.calls, "backend must not run without recognized text")
}

func TestWorkerOCREmptyTextFails(t *testing.T) {
	rec := &fakeRecognizer{text: "   \n"}
	w := NewWorker(translate.NewMock(), rec, nil)

	require.NoError(t, w.Start(context.Background(), Job{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}))

	out := awaitOutcome(t, w)
	assert.True(t, out.Failed())
	assert.Equal(t, "no text recognized", out.Error)
}

func TestWorkerOCREngineFailure(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("tesseract exploded")}
	w := NewWorker(translate.NewMock(), rec, nil)

	require.NoError(t, w.Start(context.Background(), Job{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}))

	out := awaitOutcome(t, w)
	assert.True(t, out.Failed())
	assert.Contains(t, out.Error, "text recognition failed")
	assert.Contains(t, out.Error, "tesseract exploded")
}

func TestWorkerNoTask(t *testing.T) {
	w := NewWorker(translate.NewMock(), nil, nil)
	require.NoError(t, w.Start(context.Background(), Job{}))

	out := awaitOutcome(t, w)
	assert.True(t, out.Failed())
	assert.Equal(t, "no translation task provided", out.Error)
}

func TestWorkerBackendFailureIsDisplayableSuccess(t *testing.T) {
	// A backend rejection is not a pipeline failure; the placeholder text
	// flows to the UI as the translation.
	backend := &fakeBackend{result: translate.Failure(translate.FailureAuthInvalid, "[invalid API key] hello")}
	w := NewWorker(backend, nil, nil)

	require.NoError(t, w.Start(context.Background(), Job{Text: "hello"}))

	out := awaitOutcome(t, w)
	assert.False(t, out.Failed())
	assert.Equal(t, "hello", out.OriginalText)
	assert.Equal(t, "[invalid API key] hello", out.TranslatedText)
	assert.Equal(t, StateSucceeded, w.State())
}

func TestWorkerBackendPanicFails(t *testing.T) {
	backend := &fakeBackend{panicMsg: "boom"}
	w := NewWorker(backend, nil, nil)

	require.NoError(t, w.Start(context.Background(), Job{Text: "hello"}))

	out := awaitOutcome(t, w)
	assert.True(t, out.Failed())
	assert.Contains(t, out.Error, "translation failed")
	assert.Equal(t, StateFailed, w.State())
}

func TestWorkerPassesVocabularyToSupportingBackend(t *testing.T) {
	matches := []vocab.Match{{ID: "dragon", OriginalText: "dragon"}}
	store := &fakeRetriever{matches: matches}
	backend := &fakeBackend{result: translate.Success("ok"), vocab: true}
	w := NewWorker(backend, nil, store)

	require.NoError(t, w.Start(context.Background(), Job{
		Text:           "the dragon",
		VocabularyBook: "fantasy",
		Embedding:      validEmbedding(),
	}))
	awaitOutcome(t, w)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "fantasy", store.collection)
	assert.Equal(t, topK, store.k)
	assert.Equal(t, matches, backend.lastReq.Vocabulary)
}

func TestWorkerOmitsVocabularyForNonSupportingBackend(t *testing.T) {
	store := &fakeRetriever{matches: []vocab.Match{{ID: "dragon"}}}
	backend := &fakeBackend{result: translate.Success("ok"), vocab: false}
	w := NewWorker(backend, nil, store)

	require.NoError(t, w.Start(context.Background(), Job{
		Text:           "the dragon",
		VocabularyBook: "fantasy",
		Embedding:      validEmbedding(),
	}))
	awaitOutcome(t, w)

	assert.Empty(t, backend.lastReq.Vocabulary)
}

func TestWorkerSkipsRetrievalWhenEmbeddingUnconfigured(t *testing.T) {
	store := &fakeRetriever{}
	backend := &fakeBackend{result: translate.Success("ok"), vocab: true}
	w := NewWorker(backend, nil, store)

	require.NoError(t, w.Start(context.Background(), Job{
		Text:           "hello",
		VocabularyBook: "fantasy",
	}))

	out := awaitOutcome(t, w)
	assert.False(t, out.Failed())
	assert.Zero(t, store.calls, "incomplete embedding config must skip retrieval")
	assert.Equal(t, 1, backend.calls)
}

func TestWorkerSkipsRetrievalWithoutBook(t *testing.T) {
	store := &fakeRetriever{}
	backend := &fakeBackend{result: translate.Success("ok"), vocab: true}
	w := NewWorker(backend, nil, store)

	require.NoError(t, w.Start(context.Background(), Job{Text: "hello", Embedding: validEmbedding()}))
	awaitOutcome(t, w)

	assert.Zero(t, store.calls)
}

func TestWorkerRetrievalErrorDegradesToNoContext(t *testing.T) {
	store := &fakeRetriever{err: errors.New("db locked")}
	backend := &fakeBackend{result: translate.Success("ok"), vocab: true}
	w := NewWorker(backend, nil, store)

	require.NoError(t, w.Start(context.Background(), Job{
		Text:           "hello",
		VocabularyBook: "fantasy",
		Embedding:      validEmbedding(),
	}))

	out := awaitOutcome(t, w)
	assert.False(t, out.Failed())
	assert.Equal(t, 1, backend.calls)
	assert.Empty(t, backend.lastReq.Vocabulary)
}

func TestWorkerNilBackendFallsBackToMock(t *testing.T) {
	w := NewWorker(nil, nil, nil)
	require.NoError(t, w.Start(context.Background(), Job{Text: "hi"}))

	out := awaitOutcome(t, w)
	assert.Equal(t, "[MOCK TRANSLATION] hi", out.TranslatedText)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
