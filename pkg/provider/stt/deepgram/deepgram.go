// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded audio REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "https://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 5 * time.Minute
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeyterms adds vocabulary hints (product names, menu labels) that
// Deepgram should favour during recognition.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) {
		p.keyterms = append(p.keyterms, terms...)
	}
}

// WithEndpoint overrides the listen endpoint URL. Used for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keyterms   []string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the raw linear16 clip and returns Deepgram's utterances
// as segments.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.PCM) < 2 {
		return &stt.Result{Language: p.languageFor(req)}, nil
	}

	endpoint, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.PCM))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	res, err := parseDeepgramResponse(data)
	if err != nil {
		return nil, err
	}
	if res.Language == "" {
		res.Language = p.languageFor(req)
	}
	return res, nil
}

func (p *Provider) languageFor(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

// buildURL constructs the listen endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.languageFor(req))
	q.Set("punctuate", "true")
	q.Set("utterances", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	for _, kt := range p.keyterms {
		q.Add("keyterm", kt)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON body of a pre-recorded transcription.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
		} `json:"utterances"`
	} `json:"results"`
}

// parseDeepgramResponse converts a Deepgram response into a Result. When the
// response carries no utterances the first channel's best alternative becomes
// a single segment.
func parseDeepgramResponse(data []byte) (*stt.Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	res := &stt.Result{}
	if len(resp.Results.Channels) > 0 {
		res.Language = resp.Results.Channels[0].DetectedLanguage
	}

	for _, u := range resp.Results.Utterances {
		res.Segments = append(res.Segments, stt.Segment{
			Text:  u.Transcript,
			Start: time.Duration(u.Start * float64(time.Second)),
			End:   time.Duration(u.End * float64(time.Second)),
		})
	}
	if len(res.Segments) > 0 || len(resp.Results.Channels) == 0 {
		return res, nil
	}

	alts := resp.Results.Channels[0].Alternatives
	if len(alts) > 0 && strings.TrimSpace(alts[0].Transcript) != "" {
		res.Segments = []stt.Segment{{Text: alts[0].Transcript}}
	}
	return res, nil
}
