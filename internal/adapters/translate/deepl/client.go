// Package deepl translates card text with the DeepL REST API.
package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/skyrelay/internal/ports"
	"github.com/bnema/skyrelay/internal/retry"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	ProURL            = "https://api.deepl.com"
	FreeURL           = "https://api-free.deepl.com"
	DefaultTargetLang = "EN-US"
	freeKeySuffix     = ":fx"
)

var ErrEmptyResult = errors.New("deepl returned no translation")

type Options struct {
	APIKey string
	// APIURL overrides the endpoint picked from the key type.
	APIURL     string
	TargetLang string
	Retry      retry.Budget
	HTTPClient *http.Client
	Clock      ports.Clock
	Logger     *zap.Logger
}

type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	targetLang string
	retry      retry.Budget
	clock      ports.Clock
	logger     *zap.Logger
}

var _ ports.Translator = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("deepl api key is required")
	}
	if opts.APIURL == "" {
		opts.APIURL = ProURL
		if strings.HasSuffix(opts.APIKey, freeKeySuffix) {
			opts.APIURL = FreeURL
		}
	}
	if opts.TargetLang == "" {
		opts.TargetLang = DefaultTargetLang
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		http:       opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.APIURL, "/"),
		apiKey:     opts.APIKey,
		targetLang: strings.ToUpper(opts.TargetLang),
		retry:      opts.Retry,
		clock:      opts.Clock,
		logger:     opts.Logger.Named("deepl"),
	}, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

type apiError struct {
	Status  int
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deepl: http %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("deepl: http %d: %s", e.Status, e.Message)
}

// Translate detects the source language and translates text into the
// configured target language, retrying under the configured budget.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	return retry.Value(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.translate(ctx, text)
	}, retry.WithClock(c.clock), retry.OnFailure(func(attempt int, err error) {
		c.logger.Warn("translation failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}))
}

func (c *Client) translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: []string{text}, TargetLang: c.targetLang})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl translate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read deepl response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return "", apiErr
	}

	var out translateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode deepl response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", ErrEmptyResult
	}

	c.logger.Debug("translated text",
		zap.String("source_lang", out.Translations[0].DetectedSourceLanguage),
		zap.String("target_lang", c.targetLang),
	)
	return out.Translations[0].Text, nil
}
