package orpheus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrTransport wraps failures talking to the completions endpoint.
var ErrTransport = errors.New("orpheus: completions transport")

const (
	ssePrefix = "data:"
	sseDone   = "[DONE]"
)

type completionRequest struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	Stream        bool    `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// newHTTPClient bounds connection setup and the wait for response headers.
// The body itself streams for as long as the model keeps generating.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// streamTokens posts a streaming completion request and hands every non-empty
// text fragment to consumer in arrival order. Whitespace-only text produces no
// request. A consumer error stops the stream and is returned unchanged.
func (m *Model) streamTokens(ctx context.Context, text string, opts Options, consumer func(string) error) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	payload := completionRequest{
		Model:         opts.Model,
		Prompt:        formatPrompt(text, opts.Voice),
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		RepeatPenalty: opts.RepetitionPenalty,
		Stream:        true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode completion request: %w", err)
	}

	endpoint := strings.TrimRight(opts.Endpoint, "/") + "/v1/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range opts.Headers {
		httpReq.Header.Set(k, v)
	}
	if opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	started := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %s", ErrTransport, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
		if data == sseDone {
			break
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			m.logger.Warn("skipping malformed completion chunk", slogError(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
			continue
		}
		if first {
			first = false
			ttft := time.Since(started)
			m.logger.Info("first token received", slog.Duration("time_to_first_token", ttft))
			m.metrics.RecordTimeToFirstToken(ctx, backendName, ttft)
		}
		if err := consumer(chunk.Choices[0].Text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
