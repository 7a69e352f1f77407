// Package pipeline orchestrates one translation run: OCR, best-effort
// vocabulary retrieval, and translation, executed on a background
// goroutine so the caller never blocks on network or OCR I/O.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/internal/embedding"
	"github.com/thebtf/glossa/internal/ocr"
	"github.com/thebtf/glossa/internal/translate"
	"github.com/thebtf/glossa/internal/vocab"
	"github.com/thebtf/glossa/pkg/models"
)

// topK is the fixed number of vocabulary matches retrieved per run.
const topK = 5

// defaultOCRAttempts is the recognition retry budget.
const defaultOCRAttempts = 3

// ErrBusy is returned when Start is called on a worker that is not idle.
// Runs are never queued; starting a second run is a caller error.
var ErrBusy = errors.New("translation already in progress")

// State is the worker lifecycle. Terminal states are always reached.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, maxAttempts int) (string, error)
}

// Retriever looks up vocabulary matches for RAG context.
type Retriever interface {
	Query(ctx context.Context, emb embedding.Embedder, collection, text string, k int) ([]vocab.Match, error)
}

// Job is one unit of translation work. Either Image or Text is set.
// Embedding carries the call-scoped provider credentials, so concurrent
// workers with different credentials cannot interfere.
type Job struct {
	Image          image.Image
	Text           string
	SourceLang     string
	TargetLang     string
	VocabularyBook string
	Embedding      embedding.ProviderConfig
}

// Worker runs a single job. Exactly one outcome is delivered on Outcome(),
// never zero, never more than one. A worker is single-shot: create a new
// one per run.
type Worker struct {
	backend     translate.Backend
	recognizer  Recognizer
	store       Retriever
	ocrAttempts int

	mu      sync.Mutex
	state   State
	once    sync.Once
	outcome chan models.TranslationOutcome
}

// NewWorker builds a worker. recognizer and store may be nil when the
// caller only submits literal text without a vocabulary book.
func NewWorker(backend translate.Backend, recognizer Recognizer, store Retriever) *Worker {
	if backend == nil {
		backend = translate.NewMock()
	}
	return &Worker{
		backend:     backend,
		recognizer:  recognizer,
		store:       store,
		ocrAttempts: defaultOCRAttempts,
		state:       StateIdle,
		outcome:     make(chan models.TranslationOutcome, 1),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Outcome delivers the terminal result exactly once. The caller receives
// on its own goroutine, keeping result handling single-threaded from its
// point of view.
func (w *Worker) Outcome() <-chan models.TranslationOutcome {
	return w.outcome
}

// Start launches the run on a background goroutine. It returns ErrBusy
// when the worker is not idle; runs are rejected, not queued.
func (w *Worker) Start(ctx context.Context, job Job) error {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return ErrBusy
	}
	w.state = StateRunning
	w.mu.Unlock()

	go w.run(ctx, job)
	return nil
}

func (w *Worker) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Translation run panicked")
			w.fail(fmt.Sprintf("translation failed: %v", r))
		}
	}()

	original, ok := w.resolveText(ctx, job)
	if !ok {
		return
	}

	var matches []vocab.Match
	if job.VocabularyBook != "" && w.store != nil {
		matches = w.retrieveContext(ctx, job, original)
	}

	req := translate.Request{
		Text:       original,
		SourceLang: job.SourceLang,
		TargetLang: job.TargetLang,
	}
	if w.backend.SupportsVocabulary() {
		req.Vocabulary = matches
	}

	result := w.backend.Translate(ctx, req)
	if result.Failed() {
		log.Warn().
			Str("backend", w.backend.Name()).
			Str("kind", string(result.Kind)).
			Msg("Backend reported translation failure")
	}
	// Backend failures surface as displayable text, not pipeline failures.
	w.succeed(original, result.Display())
}

// resolveText produces the text to translate, emitting a failure outcome
// and returning false when the run cannot proceed.
func (w *Worker) resolveText(ctx context.Context, job Job) (string, bool) {
	if job.Image != nil {
		if w.recognizer == nil {
			w.fail("no OCR engine configured")
			return "", false
		}
		log.Info().Msg("Starting OCR")
		text, err := w.recognizer.Recognize(ctx, job.Image, w.ocrAttempts)
		if err != nil {
			if errors.Is(err, ocr.ErrNoText) {
				w.fail("no text recognized")
			} else {
				w.fail(fmt.Sprintf("text recognition failed: %v", err))
			}
			return "", false
		}
		if strings.TrimSpace(text) == "" {
			w.fail("no text recognized")
			return "", false
		}
		return text, true
	}

	if strings.TrimSpace(job.Text) != "" {
		return job.Text, true
	}

	w.fail("no translation task provided")
	return "", false
}

// retrieveContext performs the best-effort RAG lookup. Nothing here may
// fail the pipeline: incomplete configuration skips retrieval, and query
// errors or panics degrade to no context.
func (w *Worker) retrieveContext(ctx context.Context, job Job, text string) (matches []vocab.Match) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Vocabulary retrieval panicked, continuing without context")
			matches = nil
		}
	}()

	if err := job.Embedding.Validate(); err != nil {
		log.Warn().Msg("Embedding provider not fully configured, skipping vocabulary retrieval")
		return nil
	}

	client, err := embedding.NewClient(job.Embedding)
	if err != nil {
		log.Warn().Err(err).Msg("Could not build embedding client, skipping vocabulary retrieval")
		return nil
	}

	found, err := w.store.Query(ctx, client, job.VocabularyBook, text, topK)
	if err != nil {
		log.Error().Err(err).Str("book", job.VocabularyBook).Msg("Vocabulary retrieval failed, continuing without context")
		return nil
	}

	log.Debug().Int("matches", len(found)).Str("book", job.VocabularyBook).Msg("Retrieved vocabulary context")
	return found
}

func (w *Worker) succeed(original, translated string) {
	w.once.Do(func() {
		w.setState(StateSucceeded)
		w.outcome <- models.TranslationOutcome{
			OriginalText:   original,
			TranslatedText: translated,
		}
		close(w.outcome)
	})
}

func (w *Worker) fail(message string) {
	w.once.Do(func() {
		w.setState(StateFailed)
		w.outcome <- models.TranslationOutcome{Error: message}
		close(w.outcome)
	})
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
