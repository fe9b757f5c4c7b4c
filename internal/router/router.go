// Package router translates a scheduling decision into the actual transport
// call: an OpenAI-style streaming completion request against either a remote
// hosted API or a local instance's base URL. It is stateless beyond the HTTP
// client; retry policy lives with the scheduler.
package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// backendUnreachableError signals a transport failure after a healthy
// handshake, for 502 mapping. The scheduler retries once before surfacing it.
type backendUnreachableError struct {
	backend string
	err     error
}

func (e backendUnreachableError) Error() string {
	return fmt.Sprintf("backend unreachable: %s: %v", e.backend, e.err)
}

func (e backendUnreachableError) Unwrap() error { return e.err }

// IsBackendUnreachable reports whether err indicates a transport failure.
func IsBackendUnreachable(err error) bool {
	var e backendUnreachableError
	return errors.As(err, &e)
}

// Target is the resolved destination for one dispatch.
type Target struct {
	// Backend is the registry name, carried for error context.
	Backend string
	// BaseURL of the serving endpoint (remote API or local instance).
	BaseURL string
	// CompletionPath appended to BaseURL.
	CompletionPath string
	// Model is the upstream model name placed in the request body.
	Model string
	// APIKey, when set, is sent as a bearer token (remote backends).
	APIKey string
}

// completionRequest is the OpenAI-compatible wire payload.
type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type streamChoice struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Delta        struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

type Router struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func New(log zerolog.Logger) *Router {
	// Timeout=0: dispatches are bounded by the caller's context.
	return &Router{httpClient: &http.Client{Timeout: 0}, log: log}
}

// Dispatch posts the completion request to the target and streams tokens to w
// as NDJSON lines, flushing after each. Transport failures come back as
// BackendUnreachable; caller cancellation comes back as the context error.
func (r *Router) Dispatch(ctx context.Context, target Target, req types.InferRequest, w io.Writer, flush func()) error {
	payload := completionRequest{
		Model:       target.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.BaseURL+target.CompletionPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if target.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().Str("backend", target.Backend).Err(err).Msg("dispatch transport failure")
		return backendUnreachableError{backend: target.Backend, err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.log.Warn().Str("backend", target.Backend).Str("status", resp.Status).Msg("dispatch rejected upstream")
		return backendUnreachableError{
			backend: target.Backend,
			err:     fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(b))),
		}
	}

	enc := json.NewEncoder(w)
	finish := ""
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(strings.ToLower(line), "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "[DONE]" {
			break
		}
		var msg streamResponse
		if err := json.Unmarshal([]byte(data), &msg); err != nil || len(msg.Choices) == 0 {
			continue
		}
		frag := msg.Choices[0].Text
		if frag == "" {
			frag = msg.Choices[0].Delta.Content
		}
		if fr := msg.Choices[0].FinishReason; fr != "" {
			finish = fr
		}
		if frag == "" {
			continue
		}
		if err := enc.Encode(types.TokenChunk{Token: frag}); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().Str("backend", target.Backend).Err(err).Msg("dispatch stream broke")
		return backendUnreachableError{backend: target.Backend, err: err}
	}

	if err := enc.Encode(types.TokenChunk{Done: true, FinishReason: finish}); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}
