// Package whisper provides whisper.cpp-backed STT providers.
//
// Provider talks to a running whisper-server binary, which exposes a REST API
// at POST /inference. Each Transcribe call uploads the whole clip as a WAV file
// and asks for the verbose_json response format so segment timings survive.
//
// NativeProvider (native.go) runs inference in-process through the whisper.cpp
// CGO bindings.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which a whole clip is considered silent and not sent to the
	// engine. 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 5 * time.Minute
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr") when a request does not carry one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThreshold sets the RMS level below which a clip is treated as
// silent and returns an empty result without contacting the server. Zero
// disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) {
		p.silenceThreshold = rms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL        string
	model            string
	language         string
	silenceThreshold float64
	httpClient       *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:        strings.TrimRight(serverURL, "/"),
		language:         defaultLanguage,
		silenceThreshold: defaultRMSThreshold,
		httpClient:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if len(req.PCM) < 2 || isSilent(req.PCM, p.silenceThreshold) {
		return &stt.Result{Language: lang}, nil
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	body, contentType, err := p.buildForm(encodeWAV(req.PCM, sr), lang)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	return parseInferenceResponse(data, lang)
}

// buildForm assembles the multipart body for POST /inference.
func (p *Provider) buildForm(wav []byte, lang string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{{"response_format", "verbose_json"}, {"temperature", "0.0"}}
	if lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// inferenceResponse is the verbose_json body returned by whisper-server.
// Servers started without verbose support only return Text.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func parseInferenceResponse(data []byte, lang string) (*stt.Result, error) {
	var raw inferenceResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := &stt.Result{Language: lang}
	if raw.Language != "" {
		res.Language = raw.Language
	}
	for _, s := range raw.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Text:  s.Text,
			Start: seconds(s.Start),
			End:   seconds(s.End),
		})
	}
	if len(res.Segments) == 0 && strings.TrimSpace(raw.Text) != "" {
		res.Segments = []stt.Segment{{Text: raw.Text}}
	}
	return res, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
