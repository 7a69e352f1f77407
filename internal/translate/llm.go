package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/pkg/models"
)

// LLM calls can take much longer than the plain translation API and are
// priced per token, so the timeout is longer and the attempt budget smaller.
const (
	llmTimeout     = 45 * time.Second
	llmMaxAttempts = 2
	llmRetryWait   = 500 * time.Millisecond
	llmTemperature = 0.7
)

// LLMConfig holds the OpenAI-compatible chat endpoint credentials.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LLM translates through an OpenAI-compatible chat completions endpoint,
// embedding retrieved vocabulary into the instruction.
type LLM struct {
	cfg  LLMConfig
	http *resty.Client
}

// NewLLM builds the LLM backend. An incomplete configuration is reported
// per call, not at construction, so backend selection never fails.
func NewLLM(cfg LLMConfig) *LLM {
	return &LLM{
		cfg: cfg,
		http: resty.New().
			SetTimeout(llmTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (l *LLM) Name() string { return ServiceLLM }

// SupportsVocabulary is true: retrieved terms are rendered into the prompt.
func (l *LLM) SupportsVocabulary() bool { return true }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Translate builds a single instruction and calls the chat endpoint with
// bounded retries on transport failures.
func (l *LLM) Translate(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Text) == "" {
		return Success("")
	}
	if l.cfg.APIKey == "" || l.cfg.BaseURL == "" || l.cfg.Model == "" {
		return Failure(FailureMisconfigured, "[LLM configuration incomplete]")
	}

	prompt := buildPrompt(req)
	log.Debug().Str("model", l.cfg.Model).Int("promptChars", len(prompt)).Msg("Sending LLM translation request")

	var res Result
	operation := func() error {
		res = l.attempt(ctx, prompt)
		if res.Kind == FailureTimeout || res.Kind == FailureConnection {
			log.Warn().Str("kind", string(res.Kind)).Msg("Transient LLM failure, retrying")
			return fmt.Errorf("transient: %s", res.Kind)
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(llmRetryWait), llmMaxAttempts-1),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return Failure(FailureExhausted,
			fmt.Sprintf("[LLM translation failed after %d attempts]", llmMaxAttempts))
	}
	return res
}

func (l *LLM) attempt(ctx context.Context, prompt string) Result {
	endpoint := strings.TrimRight(l.cfg.BaseURL, "/") + "/chat/completions"

	var parsed chatResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+l.cfg.APIKey).
		SetBody(chatRequest{
			Model:       l.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: llmTemperature,
			Stream:      false,
		}).
		SetResult(&parsed).
		Post(endpoint)
	if err != nil {
		// A 2xx response whose body failed to decode is a malformed
		// response, not a transport failure; retrying cannot fix it.
		if resp != nil && resp.IsSuccess() {
			return Failure(FailureBadResponse, "[LLM response format error]")
		}
		if isTimeout(err) {
			return Failure(FailureTimeout, "[LLM request timed out]")
		}
		return Failure(FailureConnection, "[LLM connection error]")
	}

	if resp.IsError() {
		switch resp.StatusCode() {
		case 401:
			return Failure(FailureAuthInvalid, "[LLM API key invalid]")
		case 429:
			return Failure(FailureRateLimited, "[LLM rate limit exceeded]")
		default:
			return Failure(FailureHTTP, fmt.Sprintf("[LLM HTTP error %d]", resp.StatusCode()))
		}
	}

	if len(parsed.Choices) == 0 {
		return Failure(FailureBadResponse, "[LLM response format error]")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return Failure(FailureBadResponse, "[LLM response format error]")
	}
	return Success(content)
}

// buildPrompt renders the translation direction, an optional vocabulary
// preference block, and a strict output-only instruction.
func buildPrompt(req Request) string {
	source := req.SourceLang
	if source == "" || source == "auto" {
		source = "the source language"
	}

	var vocabBlock strings.Builder
	rendered := 0
	for _, match := range req.Vocabulary {
		translation, _ := match.Metadata[models.MetaTranslation].(string)
		if translation == "" {
			continue
		}
		if rendered == 0 {
			vocabBlock.WriteString(
				"When translating, you MUST prioritize using the following vocabulary (original->translation). " +
					"These are key terms and should be translated as provided:\n" +
					"--- Vocabulary Start ---\n")
		}
		fmt.Fprintf(&vocabBlock, "- %s -> %s\n", match.OriginalText, translation)
		rendered++
	}
	if rendered > 0 {
		vocabBlock.WriteString("--- Vocabulary End ---\n\n")
		log.Debug().Int("terms", rendered).Msg("Rendered vocabulary block into prompt")
	}

	return fmt.Sprintf(
		"You are a professional translation engine. "+
			"Translate the following text from '%s' to '%s'. "+
			"%s"+
			"Your response must be ONLY the translated text. "+
			"Do not add any extra information, explanations, or apologies.\n\n"+
			"Text to translate:\n%s",
		source, req.TargetLang, vocabBlock.String(), req.Text)
}
