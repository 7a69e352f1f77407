package translate

import (
	"context"
	"strings"
)

// MockMarker prefixes every mock translation.
const MockMarker = "[MOCK TRANSLATION]"

// Mock is a deterministic passthrough backend used when no real backend is
// configured, guaranteeing the pipeline never holds a nil backend.
type Mock struct{}

// NewMock returns the mock backend.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return ServiceMock }

func (m *Mock) SupportsVocabulary() bool { return false }

// Translate wraps the input with a fixed marker. Empty input stays empty.
func (m *Mock) Translate(_ context.Context, req Request) Result {
	if strings.TrimSpace(req.Text) == "" {
		return Success("")
	}
	return Success(MockMarker + " " + req.Text)
}
