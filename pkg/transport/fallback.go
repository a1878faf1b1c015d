package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicewire/voicewire/internal/metrics"
	"github.com/voicewire/voicewire/pkg/session"
)

// Fallback is the one-shot upload channel: a complete audio payload goes up
// in a single request, and the server streams back the same newline-delimited
// event protocol the websocket carries. Replayed events go through the same
// sink entry point as streamed ones, so the session cannot tell the paths
// apart.
type Fallback struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewFallback builds the fallback channel against the backend root URL
// (http or https). A nil client gets a default with no overall timeout: the
// response streams for as long as the server keeps talking.
func NewFallback(baseURL string, client *http.Client, logger *zap.Logger) *Fallback {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// StreamUpload posts one complete audio file and replays the server's
// newline-delimited events into sink, preserving emission order. Non-2xx and
// network failures are TransportErrors; there is no internal retry.
func (f *Fallback) StreamUpload(ctx context.Context, sessionID, filename string, audio []byte, sink EventSink) error {
	uploadURL := fmt.Sprintf("%s/agent/chat/%s/stream", f.baseURL, sessionID)

	body, contentType, err := buildMultipart(filename, audio)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.UploadFailures.Inc()
		return &TransportError{Op: "upload", URL: uploadURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UploadFailures.Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{
			Op:  "upload",
			URL: uploadURL,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := session.DecodeEvent(line)
		if err != nil {
			f.logger.Warn("malformed fallback event dropped", zap.Error(err))
			continue
		}
		metrics.EventsReceived.WithLabelValues(eventLabel(ev)).Inc()
		sink.HandleEvent(ev)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return &TransportError{Op: "upload stream", URL: uploadURL, Err: err}
	}

	f.logger.Info("fallback upload replayed",
		zap.Int("events", lines),
		zap.Int("audio_bytes", len(audio)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func buildMultipart(filename string, audio []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write multipart payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
