package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execSynth runs a command per request. The command reads one JSON request
// on stdin and writes JSON lines, each carrying a base64 PCM chunk.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	sequence := 0
	sawFinal := false
	var streamErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			streamErr = fmt.Errorf("decode tts output: %w", err)
			break
		}
		if resp.Error != "" {
			streamErr = fmt.Errorf("tts command: %s", resp.Error)
			break
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			streamErr = fmt.Errorf("decode tts pcm: %w", err)
			break
		}
		chunk := SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   sequence,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      resp.Final,
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			_ = cmd.Wait()
			return ctx.Err()
		}
		sequence++
		if resp.Final {
			sawFinal = true
			break
		}
	}
	if streamErr == nil {
		streamErr = scanner.Err()
	}
	if streamErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tts command failed: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("tts command failed: %w", waitErr)
	}
	if !sawFinal {
		select {
		case out <- SynthChunk{SessionID: req.SessionID, Sequence: sequence, SampleRate: e.sampleRate, Channels: e.channels, Final: true}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
