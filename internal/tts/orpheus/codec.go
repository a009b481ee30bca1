package orpheus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// Codec turns a window of audio-codec IDs into little-endian 16-bit PCM.
// count is the number of IDs accepted in the session when the window was cut.
// An implementation may return no bytes for a window; such windows are
// skipped.
type Codec interface {
	Decode(ctx context.Context, window []int, count int) ([]byte, error)
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(ctx context.Context, window []int, count int) ([]byte, error)

func (f CodecFunc) Decode(ctx context.Context, window []int, count int) ([]byte, error) {
	return f(ctx, window, count)
}

type decodeRequest struct {
	Codes []int `json:"codes"`
	Count int   `json:"count"`
}

// HTTPCodec posts windows to a decoder sidecar at {endpoint}/decode. The
// response body is raw PCM; 204 means the window produced no audio.
type HTTPCodec struct {
	endpoint string
	client   *http.Client
}

func NewHTTPCodec(endpoint string, timeout time.Duration) *HTTPCodec {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCodec{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCodec) Decode(ctx context.Context, window []int, count int) ([]byte, error) {
	body, err := json.Marshal(decodeRequest{Codes: window, Count: count})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/decode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("codec request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("codec returned status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type execCodecResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

// ExecCodec keeps a decoder subprocess running and exchanges one JSON line
// per window over its stdin and stdout. Calls are serialised. The process is
// started on first use and restarted after any I/O failure or timeout.
type ExecCodec struct {
	args    []string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func NewExecCodec(command string, timeout time.Duration, logger *slog.Logger) (*ExecCodec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse codec command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("codec command empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecCodec{args: args, timeout: timeout, logger: logger.With(slog.String("component", "orpheus-codec"))}, nil
}

func (c *ExecCodec) Decode(ctx context.Context, window []int, count int) ([]byte, error) {
	line, err := json.Marshal(decodeRequest{Codes: window, Count: count})
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		if err := c.start(); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	stdin, stdout := c.stdin, c.stdout
	go func() {
		if _, err := stdin.Write(line); err != nil {
			done <- result{err: err}
			return
		}
		out, err := stdout.ReadBytes('\n')
		done <- result{line: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.kill()
		<-done
		c.wait()
		return nil, ctx.Err()
	}
	if res.err != nil {
		c.kill()
		c.wait()
		return nil, fmt.Errorf("codec process: %w", res.err)
	}

	var resp execCodecResponse
	if err := json.Unmarshal(res.line, &resp); err != nil {
		return nil, fmt.Errorf("decode codec response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("codec: %s", resp.Error)
	}
	return base64.StdEncoding.DecodeString(resp.PCMBase64)
}

// Close stops the decoder process if it is running.
func (c *ExecCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	c.stdin.Close()
	c.kill()
	c.wait()
	return nil
}

func (c *ExecCodec) start() error {
	cmd := exec.Command(c.args[0], c.args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start codec process: %w", err)
	}
	c.logger.Info("codec process started", slog.Int("pid", cmd.Process.Pid))
	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReaderSize(stdout, 256*1024)
	return nil
}

func (c *ExecCodec) kill() {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// wait reaps the process. Callers must ensure no read on stdout is pending.
func (c *ExecCodec) wait() {
	if c.cmd == nil {
		return
	}
	if err := c.cmd.Wait(); err != nil {
		c.logger.Debug("codec process exited", slogError(err))
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
}
