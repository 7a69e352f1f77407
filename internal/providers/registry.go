// Package providers manages YAML-based embedding provider templates.
package providers

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Provider describes an embedding API endpoint template. API keys are never
// stored here; they live in the user settings.
type Provider struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	BaseURL   string   `yaml:"base_url" json:"base_url"`
	Models    []string `yaml:"models" json:"models"`
	Deletable bool     `yaml:"deletable" json:"deletable"`
}

// registryFile is the top-level YAML structure.
type registryFile struct {
	Providers []Provider `yaml:"providers"`
}

// Registry holds provider templates and persists changes back to disk.
type Registry struct {
	mu        sync.RWMutex
	path      string
	providers []Provider
}

// defaults returns the built-in provider templates.
func defaults() []Provider {
	return []Provider{
		{
			ID:      "openai",
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Models:  []string{"text-embedding-3-small", "text-embedding-3-large"},
		},
		{
			ID:      "ollama",
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Models:  []string{"nomic-embed-text", "mxbai-embed-large"},
		},
	}
}

// Load reads the YAML file at path. If the file does not exist, Load
// returns a Registry seeded with the built-in templates (not an error).
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.providers = defaults()
			return r, nil
		}
		return nil, err
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider registry: %w", err)
	}

	r.providers = file.Providers
	if len(r.providers) == 0 {
		r.providers = defaults()
	}
	return r, nil
}

// save writes the current templates to disk. Callers hold the lock.
func (r *Registry) save() error {
	data, err := yaml.Marshal(registryFile{Providers: r.providers})
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}

// All returns all provider templates in definition order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// GetByID returns a provider by its unique id.
func (r *Registry) GetByID(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// GetByName returns a provider by its display name.
func (r *Registry) GetByName(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Names returns all provider display names in definition order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name
	}
	return names
}

// Add registers a new custom provider template and persists the registry.
// The id is derived from the name; collisions get a numeric suffix.
func (r *Registry) Add(name, baseURL string, models []string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers {
		if p.Name == name {
			return Provider{}, fmt.Errorf("provider %q already exists", name)
		}
	}

	id := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if r.hasID(id) {
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s_%d", id, i)
			if !r.hasID(candidate) {
				id = candidate
				break
			}
		}
	}

	p := Provider{
		ID:        id,
		Name:      name,
		BaseURL:   baseURL,
		Models:    models,
		Deletable: true,
	}
	r.providers = append(r.providers, p)
	if err := r.save(); err != nil {
		r.providers = r.providers[:len(r.providers)-1]
		return Provider{}, err
	}
	return p, nil
}

// Delete removes a deletable provider by id and persists the registry.
// Built-in templates are not deletable.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.providers {
		if p.ID != id {
			continue
		}
		if !p.Deletable {
			return fmt.Errorf("provider %q is not deletable", id)
		}
		r.providers = append(r.providers[:i], r.providers[i+1:]...)
		return r.save()
	}
	return fmt.Errorf("provider %q not found", id)
}

func (r *Registry) hasID(id string) bool {
	for _, p := range r.providers {
		if p.ID == id {
			return true
		}
	}
	return false
}
