package worker

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/glossa/pkg/models"
)

func TestEventFromOutcome(t *testing.T) {
	success := eventFromOutcome(models.TranslationOutcome{
		OriginalText:   "hello",
		TranslatedText: "你好",
	})
	assert.Equal(t, EventTranslationSuccess, success.Type)
	assert.Equal(t, "hello", success.OriginalText)
	assert.Equal(t, "你好", success.TranslatedText)
	assert.Empty(t, success.Error)

	failure := eventFromOutcome(models.TranslationOutcome{Error: "no text recognized"})
	assert.Equal(t, EventTranslationFailure, failure.Type)
	assert.Equal(t, "no text recognized", failure.Error)
	assert.Empty(t, failure.TranslatedText)
}

// sseStream connects to the broadcaster and exposes received data lines.
func sseStream(t *testing.T, url string) (<-chan string, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer resp.Body.Close()
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return lines, cancel
}

func nextLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "stream closed early")
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func waitForClients(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count never reached %d", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcasterDeliversEvents(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	lines, cancel := sseStream(t, srv.URL)
	defer cancel()

	// Hello frame arrives first
	hello := nextLine(t, lines)
	assert.Contains(t, hello, `"type":"connected"`)
	waitForClients(t, b, 1)

	b.Broadcast(Event{
		Type:           EventTranslationSuccess,
		OriginalText:   "hello",
		TranslatedText: "你好",
	})

	var got Event
	require.NoError(t, json.Unmarshal([]byte(nextLine(t, lines)), &got))
	assert.Equal(t, EventTranslationSuccess, got.Type)
	assert.Equal(t, "你好", got.TranslatedText)
}

func TestBroadcasterMultipleClients(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	lines1, cancel1 := sseStream(t, srv.URL)
	defer cancel1()
	lines2, cancel2 := sseStream(t, srv.URL)
	defer cancel2()

	nextLine(t, lines1)
	nextLine(t, lines2)
	waitForClients(t, b, 2)

	b.Broadcast(Event{Type: EventTranslationFailure, Error: "boom"})

	for _, lines := range []<-chan string{lines1, lines2} {
		var got Event
		require.NoError(t, json.Unmarshal([]byte(nextLine(t, lines)), &got))
		assert.Equal(t, EventTranslationFailure, got.Type)
		assert.Equal(t, "boom", got.Error)
	}
}

func TestBroadcasterDropsDisconnectedClients(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	lines, cancel := sseStream(t, srv.URL)
	nextLine(t, lines)
	waitForClients(t, b, 1)

	cancel()
	waitForClients(t, b, 0)

	// Broadcasting with no clients is a no-op
	b.Broadcast(Event{Type: EventTranslationSuccess})
}
