package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	microsoftEndpoint    = "https://api.cognitive.microsofttranslator.com/translate"
	microsoftTimeout     = 10 * time.Second
	microsoftMaxAttempts = 3
	microsoftRetryWait   = 300 * time.Millisecond
)

// MicrosoftConfig holds credentials for the Microsoft Translator API.
type MicrosoftConfig struct {
	APIKey   string
	Region   string
	Endpoint string // overridable for tests; defaults to the public API
}

// Microsoft translates through the Microsoft Translator v3 REST API.
type Microsoft struct {
	cfg  MicrosoftConfig
	http *resty.Client
}

// NewMicrosoft builds the Microsoft backend.
func NewMicrosoft(cfg MicrosoftConfig) *Microsoft {
	if cfg.Endpoint == "" {
		cfg.Endpoint = microsoftEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = "global"
	}
	return &Microsoft{
		cfg: cfg,
		http: resty.New().
			SetTimeout(microsoftTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (m *Microsoft) Name() string { return ServiceMicrosoft }

// SupportsVocabulary is false: the REST API has no terminology parameter.
func (m *Microsoft) SupportsVocabulary() bool { return false }

type microsoftTranslation struct {
	Text string `json:"text"`
	To   string `json:"to"`
}

type microsoftResult struct {
	DetectedLanguage *struct {
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"detectedLanguage,omitempty"`
	Translations []microsoftTranslation `json:"translations"`
}

// Translate calls the API with bounded retries. Timeouts and transient
// connection failures are retried; authoritative rejections (401/403/429)
// and malformed responses are not.
func (m *Microsoft) Translate(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Text) == "" {
		return Success("")
	}
	if m.cfg.APIKey == "" {
		return Failure(FailureMisconfigured, fmt.Sprintf("[API key required] %s", req.Text))
	}

	var res Result
	attempt := 0
	operation := func() error {
		attempt++
		res = m.attempt(ctx, req)
		if res.Kind == FailureTimeout || res.Kind == FailureConnection {
			log.Warn().
				Int("attempt", attempt).
				Str("kind", string(res.Kind)).
				Msg("Transient translation failure, retrying")
			return fmt.Errorf("transient: %s", res.Kind)
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(microsoftRetryWait), microsoftMaxAttempts-1),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return Failure(FailureExhausted,
			fmt.Sprintf("[translation failed after %d attempts] %s", microsoftMaxAttempts, req.Text))
	}
	return res
}

func (m *Microsoft) attempt(ctx context.Context, req Request) Result {
	params := map[string]string{
		"api-version": "3.0",
		"to":          req.TargetLang,
	}
	if req.SourceLang != "" && req.SourceLang != "auto" {
		params["from"] = req.SourceLang
	}

	var results []microsoftResult
	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("Ocp-Apim-Subscription-Key", m.cfg.APIKey).
		SetHeader("Ocp-Apim-Subscription-Region", m.cfg.Region).
		SetBody([]map[string]string{{"text": req.Text}}).
		SetResult(&results).
		Post(m.cfg.Endpoint)
	if err != nil {
		// A 2xx response whose body failed to decode is a malformed
		// response, not a transport failure; retrying cannot fix it.
		if resp != nil && resp.IsSuccess() {
			return Failure(FailureBadResponse, fmt.Sprintf("[malformed response] %s", req.Text))
		}
		if isTimeout(err) {
			return Failure(FailureTimeout, fmt.Sprintf("[connection timed out] %s", req.Text))
		}
		return Failure(FailureConnection, fmt.Sprintf("[network connection error] %s", req.Text))
	}

	if resp.IsError() {
		switch resp.StatusCode() {
		case 401:
			return Failure(FailureAuthInvalid, fmt.Sprintf("[invalid API key] %s", req.Text))
		case 403:
			return Failure(FailureAccessDenied, fmt.Sprintf("[API access denied] %s", req.Text))
		case 429:
			return Failure(FailureRateLimited, fmt.Sprintf("[rate limit exceeded] %s", req.Text))
		default:
			return Failure(FailureHTTP,
				fmt.Sprintf("[HTTP error %d] %s", resp.StatusCode(), req.Text))
		}
	}

	if len(results) == 0 || len(results[0].Translations) == 0 {
		return Failure(FailureBadResponse, fmt.Sprintf("[malformed response] %s", req.Text))
	}

	if dl := results[0].DetectedLanguage; dl != nil {
		log.Debug().Str("language", dl.Language).Msg("Detected source language")
	}
	return Success(results[0].Translations[0].Text)
}
