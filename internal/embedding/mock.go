package embedding

import "context"

// Mock is a deterministic embedder for tests. Each rune contributes to one
// vector component, so identical texts produce identical vectors and
// similar texts land close together.
type Mock struct {
	Dimension int
	ModelName string
	Err       error
}

// NewMock returns a mock embedder with the given dimension.
func NewMock(dimension int) *Mock {
	return &Mock{Dimension: dimension, ModelName: "mock"}
}

// Embed returns a deterministic vector derived from text, or Err when set.
func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	vec := make([]float32, m.Dimension)
	for i, r := range text {
		if i >= m.Dimension {
			break
		}
		vec[i] = float32(r) / 1000.0
	}
	return vec, nil
}

// Model returns the mock model name.
func (m *Mock) Model() string {
	if m.ModelName == "" {
		return "mock"
	}
	return m.ModelName
}
