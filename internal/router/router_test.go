package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

func sseServer(t *testing.T, fragments []string, finish string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, f := range fragments {
			fr := ""
			if i == len(fragments)-1 {
				fr = finish
			}
			fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q,\"finish_reason\":%q}]}\n\n", f, fr)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func decodeChunks(t *testing.T, buf *bytes.Buffer) []types.TokenChunk {
	t.Helper()
	var out []types.TokenChunk
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var c types.TokenChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		out = append(out, c)
	}
	return out
}

func TestDispatch_StreamsTokens(t *testing.T) {
	srv := sseServer(t, []string{"hel", "lo"}, "stop")
	defer srv.Close()

	r := New(zerolog.Nop())
	var buf bytes.Buffer
	flushed := 0
	err := r.Dispatch(context.Background(), Target{
		Backend:        "m",
		BaseURL:        srv.URL,
		CompletionPath: "/v1/completions",
		Model:          "m",
	}, types.InferRequest{Prompt: "hi"}, &buf, func() { flushed++ })
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	chunks := decodeChunks(t, &buf)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Token != "hel" || chunks[1].Token != "lo" {
		t.Fatalf("tokens = %+v", chunks)
	}
	if !chunks[2].Done || chunks[2].FinishReason != "stop" {
		t.Fatalf("final chunk = %+v", chunks[2])
	}
	if flushed < 3 {
		t.Fatalf("flushed %d times, want at least one per chunk", flushed)
	}
}

func TestDispatch_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	r := New(zerolog.Nop())
	var buf bytes.Buffer
	err := r.Dispatch(context.Background(), Target{
		Backend: "remote", BaseURL: srv.URL, CompletionPath: "/v1/completions", APIKey: "sk-test",
	}, types.InferRequest{Prompt: "hi"}, &buf, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestDispatch_ConnectFailureIsUnreachable(t *testing.T) {
	r := New(zerolog.Nop())
	var buf bytes.Buffer
	err := r.Dispatch(context.Background(), Target{
		Backend: "m", BaseURL: "http://127.0.0.1:1", CompletionPath: "/v1/completions",
	}, types.InferRequest{Prompt: "hi"}, &buf, nil)
	if err == nil || !IsBackendUnreachable(err) {
		t.Fatalf("expected backend unreachable, got %v", err)
	}
}

func TestDispatch_HTTPErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := New(zerolog.Nop())
	var buf bytes.Buffer
	err := r.Dispatch(context.Background(), Target{
		Backend: "m", BaseURL: srv.URL, CompletionPath: "/v1/completions",
	}, types.InferRequest{Prompt: "hi"}, &buf, nil)
	if err == nil || !IsBackendUnreachable(err) {
		t.Fatalf("expected backend unreachable, got %v", err)
	}
	if !strings.Contains(err.Error(), "m") {
		t.Fatalf("error should carry backend identity: %v", err)
	}
}

func TestDispatch_LogsTransportFailure(t *testing.T) {
	var logBuf bytes.Buffer
	r := New(zerolog.New(&logBuf))
	var buf bytes.Buffer
	err := r.Dispatch(context.Background(), Target{
		Backend: "m", BaseURL: "http://127.0.0.1:1", CompletionPath: "/v1/completions",
	}, types.InferRequest{Prompt: "hi"}, &buf, nil)
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if !strings.Contains(logBuf.String(), "dispatch transport failure") ||
		!strings.Contains(logBuf.String(), `"backend":"m"`) {
		t.Fatalf("transport failure not logged with backend identity: %s", logBuf.String())
	}
}

func TestDispatch_CancelledContextIsNotUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(zerolog.Nop())
	var buf bytes.Buffer
	err := r.Dispatch(ctx, Target{
		Backend: "m", BaseURL: "http://127.0.0.1:1", CompletionPath: "/v1/completions",
	}, types.InferRequest{Prompt: "hi"}, &buf, nil)
	if err == nil || IsBackendUnreachable(err) {
		t.Fatalf("cancellation must surface as context error, got %v", err)
	}
}
