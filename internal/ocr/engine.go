// Package ocr wraps an external tesseract binary with a degrading retry
// ladder: default layout first, then single-block, then single-word over a
// grayscale copy of the image.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Typed failures. Engine-unavailable, permission, and file-not-found are
// fatal: no retry will fix them.
var (
	ErrNoText            = errors.New("no text found in image")
	ErrEngineUnavailable = errors.New("ocr engine is not installed or not configured")
	ErrPermission        = errors.New("permission denied running ocr engine")
	ErrInputMissing      = errors.New("ocr input file missing")
)

// retryDelay is the pause between retryable failures.
const retryDelay = 200 * time.Millisecond

// runner executes the OCR binary on an image file and returns raw text.
// Kept as a seam so tests can script attempt outcomes.
type runner interface {
	Run(ctx context.Context, imagePath, language string, extraArgs []string) (string, error)
}

// Engine recognizes text in images.
type Engine struct {
	run      runner
	language string
}

// New builds an Engine that shells out to the given tesseract binary.
func New(binary, language string) *Engine {
	return &Engine{
		run:      &tesseractRunner{binary: binary},
		language: language,
	}
}

// Language returns the configured recognition language.
func (e *Engine) Language() string {
	return e.language
}

// SetLanguage changes the recognition language for subsequent calls.
func (e *Engine) SetLanguage(language string) {
	e.language = language
}

// Recognize extracts text from img, escalating strategy per attempt:
// attempt 1 default settings, attempt 2 assumes a single uniform text
// block, attempt 3 assumes a single word and converts the image to
// grayscale first. The first non-empty trimmed result wins. When every
// attempt comes back empty, ErrNoText is returned. Debug artifacts written
// during retries are removed before returning on all paths.
func (e *Engine) Recognize(ctx context.Context, img image.Image, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	workDir, err := os.MkdirTemp("", "glossa-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr work directory: %w", err)
	}

	var debugFiles []string
	defer func() {
		cleanupDebugFiles(debugFiles)
		os.RemoveAll(workDir)
	}()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		input := img
		var extraArgs []string

		switch attempt {
		case 1:
			// default settings
		case 2:
			extraArgs = []string{"--psm", "6"}
		default:
			extraArgs = []string{"--psm", "8"}
			input = toGrayscale(img)
		}

		imagePath := filepath.Join(workDir, fmt.Sprintf("input_%d.png", attempt))
		if err := writePNG(imagePath, input); err != nil {
			return "", fmt.Errorf("write ocr input: %w", err)
		}

		if attempt > 1 {
			debugPath := filepath.Join(os.TempDir(), fmt.Sprintf("glossa_debug_ocr_attempt_%d.png", attempt))
			if err := writePNG(debugPath, input); err == nil {
				debugFiles = append(debugFiles, debugPath)
				log.Debug().Str("path", debugPath).Msg("Saved OCR debug image")
			}
		}

		text, err := e.run.Run(ctx, imagePath, e.language, extraArgs)
		if err != nil {
			if fatal := classifyFatal(err); fatal != nil {
				return "", fatal
			}
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("OCR attempt failed, retrying")
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(retryDelay):
				}
			}
			continue
		}

		if result := strings.TrimSpace(text); result != "" {
			log.Debug().
				Int("attempt", attempt).
				Int("chars", len(result)).
				Msg("OCR succeeded")
			return result, nil
		}
		log.Debug().Int("attempt", attempt).Msg("OCR attempt returned empty text")
	}

	if lastErr != nil {
		return "", fmt.Errorf("recognition failed after %d attempts: %w", maxAttempts, lastErr)
	}
	return "", ErrNoText
}

// classifyFatal maps errors that retrying cannot fix onto typed failures.
func classifyFatal(err error) error {
	switch {
	case errors.Is(err, ErrEngineUnavailable),
		errors.Is(err, ErrPermission),
		errors.Is(err, ErrInputMissing):
		return err
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrInputMissing, err)
	}
	return nil
}

func cleanupDebugFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Could not remove OCR debug file")
			continue
		}
		log.Debug().Str("path", p).Msg("Removed OCR debug file")
	}
}

// toGrayscale converts img to a single-channel grayscale image.
func toGrayscale(img image.Image) image.Image {
	if _, ok := img.(*image.Gray); ok {
		return img
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// tesseractRunner shells out to the tesseract CLI.
type tesseractRunner struct {
	binary string
}

func (r *tesseractRunner) Run(ctx context.Context, imagePath, language string, extraArgs []string) (string, error) {
	if r.binary == "" {
		return "", ErrEngineUnavailable
	}

	args := []string{imagePath, "stdout"}
	if language != "" {
		args = append(args, "-l", language)
	}
	args = append(args, extraArgs...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrEngineUnavailable, r.binary)
		}
		if errors.Is(err, os.ErrPermission) {
			return "", fmt.Errorf("%w: %s", ErrPermission, r.binary)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tesseract: %s", msg)
	}

	return stdout.String(), nil
}
