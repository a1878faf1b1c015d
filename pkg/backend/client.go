// Package backend is the HTTP client for the voice backend's request/response
// surface: non-streaming chat, persona selection, recording listings, server
// conversation history, and assistant audio retrieval. The realtime protocol
// lives in pkg/transport; everything here is plain request/response glue.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 60 * time.Second

// Client talks to one backend instance.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// ChatResult is the non-streaming chat response.
type ChatResult struct {
	AudioURLs   []string `json:"audio_urls"`
	Transcript  string   `json:"transcript"`
	LLMResponse string   `json:"llm_response"`
	Error       string   `json:"error"`
}

// Recording describes one stored audio file for a session.
type Recording struct {
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

// HistoryMessage is one entry of the server-side conversation history.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient builds a backend client for baseURL (http or https). A nil
// httpClient gets a default with a request timeout suited to transcription
// latency.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}, nil
}

// Chat uploads one complete audio file and waits for the full reply:
// transcript, response text, and synthesized audio URLs in one shot.
func (c *Client) Chat(ctx context.Context, sessionID, filename string, audio []byte) (*ChatResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build chat form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write chat payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish chat form: %w", err)
	}

	var result ChatResult
	err = c.do(ctx, http.MethodPost, "/agent/chat/"+sessionID, writer.FormDataContentType(), body, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return &result, fmt.Errorf("server error: %s", result.Error)
	}
	return &result, nil
}

// FetchAudio downloads assistant audio. Relative URLs (the usual case for
// audio_ready payloads) are resolved against the client's base URL.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	resolved, err := c.resolve(audioURL)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build audio request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch audio: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read audio body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// SetPersona selects the assistant persona for a session. The server
// validates the name; an unknown persona is a 400.
func (c *Client) SetPersona(ctx context.Context, sessionID, persona string) error {
	path := fmt.Sprintf("/persona/%s/%s", sessionID, url.PathEscape(persona))
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

// GetPersona reports the session's active persona.
func (c *Client) GetPersona(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		Persona string `json:"persona"`
	}
	if err := c.do(ctx, http.MethodGet, "/persona/"+sessionID, "", nil, &out); err != nil {
		return "", err
	}
	return out.Persona, nil
}

// ListRecordings returns the stored audio files for a session.
func (c *Client) ListRecordings(ctx context.Context, sessionID string) ([]Recording, error) {
	var out struct {
		Files []Recording `json:"files"`
		Error string      `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/recorded-audio/"+sessionID, "", nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("server error: %s", out.Error)
	}
	return out.Files, nil
}

// History returns the server-side conversation history for a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]HistoryMessage, error) {
	var out struct {
		History []HistoryMessage `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversation/"+sessionID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// ClearConversation resets the server-side history for a session.
func (c *Client) ClearConversation(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/conversation/"+sessionID, "", nil, nil)
}

// Health checks backend liveness and returns its status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) resolve(audioURL string) (string, error) {
	parsed, err := url.Parse(audioURL)
	if err != nil {
		return "", fmt.Errorf("parse audio URL: %w", err)
	}
	if parsed.IsAbs() {
		return audioURL, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	return base.ResolveReference(parsed).String(), nil
}
