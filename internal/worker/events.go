// Package worker exposes the translation pipeline and vocabulary store to
// the UI layer over a local HTTP listener with server-sent events.
package worker

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/pkg/models"
)

// Event names pushed to connected UI clients.
const (
	EventTranslationSuccess = "translation.success"
	EventTranslationFailure = "translation.failure"
)

// writeTimeout bounds writes to SSE clients so a stale connection cannot
// block a broadcast.
const writeTimeout = 2 * time.Second

// Event is one outward notification.
type Event struct {
	Type           string `json:"type"`
	OriginalText   string `json:"original_text,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
	Error          string `json:"error,omitempty"`
}

// eventFromOutcome maps a pipeline outcome onto its wire event.
func eventFromOutcome(o models.TranslationOutcome) Event {
	if o.Failed() {
		return Event{Type: EventTranslationFailure, Error: o.Error}
	}
	return Event{
		Type:           EventTranslationSuccess,
		OriginalText:   o.OriginalText,
		TranslatedText: o.TranslatedText,
	}
}

// sseClient is one connected event stream.
type sseClient struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	id      string
}

// Broadcaster fans events out to connected SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*sseClient)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) add(w http.ResponseWriter) (*sseClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	c := &sseClient{
		id:      fmt.Sprintf("ui-%d", b.nextID),
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", c.id).Int("totalClients", count).Msg("Event stream connected")
	return c, nil
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	c, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if exists {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	log.Debug().Str("clientId", id).Int("totalClients", count).Msg("Event stream disconnected")
}

// Broadcast sends an event to every connected client. Writes run
// concurrently with individual timeouts; dead clients are dropped.
func (b *Broadcaster) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadCh := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *sseClient) {
			defer wg.Done()
			b.writeTo(c, message, deadCh)
		}(c)
	}
	wg.Wait()
	close(deadCh)

	for id := range deadCh {
		b.remove(id)
	}
}

func (b *Broadcaster) writeTo(c *sseClient, message string, deadCh chan<- string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.writer.Write([]byte(message)); err != nil {
			deadCh <- c.id
			return
		}
		c.flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(writeTimeout):
		log.Warn().Str("clientId", c.id).Msg("Event write timed out, dropping client")
		deadCh <- c.id
	case <-c.done:
	}
}

// HandleSSE serves the event stream endpoint.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.add(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.remove(client.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"clientId\":%q}\n\n", client.id)
	client.flusher.Flush()

	<-r.Context().Done()
}
