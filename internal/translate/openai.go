package translate

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
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("translate: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// OpenAI is an OpenAI-compatible client for chat-based translation and
// audio transcription.
type OpenAI struct {
	baseURL            string
	apiKey             string
	model              string
	transcriptionModel string
	httpClient         *http.Client
}

// OpenAIOpts holds parameters for creating an OpenAI client.
type OpenAIOpts struct {
	BaseURL            string
	APIKey             string
	Model              string
	TranscriptionModel string
	HTTPClient         *http.Client // defaults to a 30s timeout client
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(opts OpenAIOpts) (*OpenAI, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("translate: openai: base url is required")
	}
	if opts.Model == "" {
		return nil, errors.New("translate: openai: model is required")
	}
	hc := opts.HTTPClient
	if hc == nil || hc.Timeout == 0 {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAI{
		baseURL:            strings.TrimSpace(opts.BaseURL),
		apiKey:             opts.APIKey,
		model:              opts.Model,
		transcriptionModel: opts.TranscriptionModel,
		httpClient:         hc,
	}, nil
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// Translate asks the chat model for a translation. Text whose source and
// target languages match is returned unchanged without a request.
func (o *OpenAI) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || sameLanguage(source, target) {
		return text, nil
	}

	prompt := fmt.Sprintf("Translate the user's message from %s to %s. Reply with the translation only.", source, target)
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate: marshal request: %w", err)
	}

	url := endpointURL(o.baseURL, "/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := o.do(req, url)
	if err != nil {
		return "", fmt.Errorf("translate: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("translate: no choices in response")
	}
	out := strings.TrimSpace(payload.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("translate: empty translation")
	}
	return out, nil
}

// Transcribe uploads audio to the transcription endpoint. language is sent
// only when it is a two-letter ISO-639-1 code.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if o.transcriptionModel == "" {
		return "", ErrNotConfigured
	}
	if len(audio) == 0 {
		return "", errors.New("translate: audio is empty")
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("translate: build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("translate: build form: %w", err)
	}
	if err := mw.WriteField("model", o.transcriptionModel); err != nil {
		return "", fmt.Errorf("translate: build form: %w", err)
	}
	if lang := strings.ToLower(strings.TrimSpace(language)); len(lang) == 2 {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("translate: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("translate: build form: %w", err)
	}

	url := endpointURL(o.baseURL, "/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("translate: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := o.do(req, url)
	if err != nil {
		return "", fmt.Errorf("translate: transcription failed: %w", err)
	}

	var payload transcriptionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("translate: decode transcription: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

func (o *OpenAI) do(req *http.Request, url string) ([]byte, error) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	res, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
