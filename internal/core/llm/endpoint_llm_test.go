package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lawgpt/internal/core"
)

func fastOpts() EndpointOptions {
	return EndpointOptions{Timeout: 5 * time.Second, RetryMax: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}
}

func TestEndpointLLMPostsQuery(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"generated_text":"⚖ Section 420 covers cheating."}`))
	}))
	defer srv.Close()

	e := NewEndpointLLM(Endpoints{FallbackModel: srv.URL}, fastOpts())
	out, err := e.Generate(context.Background(), FallbackModel, "what is 420?")
	require.NoError(t, err)
	require.Equal(t, "what is 420?", got.Query)
	require.Equal(t, "⚖ Section 420 covers cheating.", out)
}

func TestEndpointLLMReplyFieldPrecedence(t *testing.T) {
	cases := map[string]string{
		`{"response":"a","generated_text":"b","text":"c"}`: "a",
		`{"generated_text":"b","text":"c"}`:                "b",
		`{"text":"c"}`:                                     "c",
		`{}`:                                               "",
	}
	for body, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		e := NewEndpointLLM(Endpoints{FallbackModel: srv.URL}, fastOpts())
		out, err := e.Generate(context.Background(), FallbackModel, "q")
		srv.Close()
		require.NoError(t, err, body)
		require.Equal(t, want, out, body)
	}
}

func TestEndpointLLMUnknownModelFallsBack(t *testing.T) {
	var hits atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer fallback.Close()

	e := NewEndpointLLM(Endpoints{FallbackModel: fallback.URL, "Contract-AI": "http://127.0.0.1:1/unused"}, fastOpts())
	out, err := e.Generate(context.Background(), "Mystery-Model", "q")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, int32(1), hits.Load())
}

func TestEndpointLLMRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":"second try"}`))
	}))
	defer srv.Close()

	e := NewEndpointLLM(Endpoints{FallbackModel: srv.URL}, fastOpts())
	out, err := e.Generate(context.Background(), FallbackModel, "q")
	require.NoError(t, err)
	require.Equal(t, "second try", out)
	require.Equal(t, int32(2), calls.Load())
}

func TestEndpointLLMClientErrorIsInferenceError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewEndpointLLM(Endpoints{FallbackModel: srv.URL}, fastOpts())
	_, err := e.Generate(context.Background(), FallbackModel, "q")
	require.ErrorIs(t, err, core.ErrInference)
	require.Contains(t, err.Error(), "400")
	require.Equal(t, int32(1), calls.Load())
}

func TestEndpointLLMBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>tunnel offline</html>`))
	}))
	defer srv.Close()

	_, err := NewEndpointLLM(Endpoints{FallbackModel: srv.URL}, fastOpts()).Generate(context.Background(), FallbackModel, "q")
	require.ErrorIs(t, err, core.ErrInference)
}

func TestLoadEndpoints(t *testing.T) {
	base := DefaultEndpoints("http://inference.local/generate")
	require.Equal(t, "http://inference.local/generate", base["Legal-Pro"])

	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  Contract-AI: http://contracts.local/generate\n  BNS-Expert: http://bns.local/generate\n"), 0o600))

	eps, err := LoadEndpoints(path, base)
	require.NoError(t, err)
	require.Equal(t, "http://contracts.local/generate", eps["Contract-AI"])
	require.Equal(t, "http://bns.local/generate", eps["BNS-Expert"])
	require.Equal(t, "http://inference.local/generate", eps[FallbackModel])
	// base is untouched
	require.Equal(t, "http://inference.local/generate", base["Contract-AI"])

	url, used := eps.Resolve("nope")
	require.Equal(t, FallbackModel, used)
	require.Equal(t, eps[FallbackModel], url)

	require.NoError(t, os.WriteFile(path, []byte("models:\n  X: \"\"\n"), 0o600))
	_, err = LoadEndpoints(path, base)
	require.Error(t, err)
}

type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Generate(_ context.Context, model, _ string) (string, error) {
	s.model = model
	return s.name, nil
}

func TestRouter(t *testing.T) {
	eps := &stubProvider{name: "endpoints"}
	gem := &stubProvider{name: "gemini"}

	out, err := NewRouter(eps, gem).Generate(context.Background(), "gemini-1.5-flash", "q")
	require.NoError(t, err)
	require.Equal(t, "gemini", out)
	require.Equal(t, "gemini-1.5-flash", gem.model)

	out, err = NewRouter(eps, gem).Generate(context.Background(), "Legal-Pro", "q")
	require.NoError(t, err)
	require.Equal(t, "endpoints", out)

	// without a gemini key the request lands on the fallback model
	out, err = NewRouter(eps, nil).Generate(context.Background(), "Gemini-Pro", "q")
	require.NoError(t, err)
	require.Equal(t, "endpoints", out)
	require.Equal(t, FallbackModel, eps.model)
}
