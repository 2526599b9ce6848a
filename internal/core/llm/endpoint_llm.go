package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
)

const maxErrorBody = 512

type EndpointOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// EndpointLLM posts {"query": prompt} to the model's HTTP endpoint.
type EndpointLLM struct {
	endpoints Endpoints
	client    *retryablehttp.Client
}

func NewEndpointLLM(endpoints Endpoints, opts EndpointOptions) *EndpointLLM {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 4 * time.Second
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = opts.Timeout
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.Logger = retryLogger{}

	return &EndpointLLM{endpoints: endpoints, client: c}
}

type generateRequest struct {
	Query string `json:"query"`
}

type generateResponse struct {
	Response      string `json:"response"`
	GeneratedText string `json:"generated_text"`
	Text          string `json:"text"`
}

func (r generateResponse) reply() string {
	switch {
	case r.Response != "":
		return r.Response
	case r.GeneratedText != "":
		return r.GeneratedText
	}
	return r.Text
}

func (e *EndpointLLM) Generate(ctx context.Context, model, prompt string) (string, error) {
	url, used := e.endpoints.Resolve(model)
	if url == "" {
		return "", errors.Wrapf(core.ErrInference, "no endpoint for model %q", model)
	}

	body, err := json.Marshal(generateRequest{Query: prompt})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(core.ErrInference, "%s: %v", used, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("model", used).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("inference response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.Wrapf(core.ErrInference, "%s: status %d: %s", used, resp.StatusCode, snippet)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrapf(core.ErrInference, "%s: decode response: %v", used, err)
	}
	return out.reply(), nil
}

// retryLogger routes retryablehttp's leveled logging into zerolog.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { log.Error().Fields(kv).Msg(msg) }
func (retryLogger) Warn(msg string, kv ...interface{})  { log.Warn().Fields(kv).Msg(msg) }
func (retryLogger) Info(msg string, kv ...interface{})  { log.Debug().Fields(kv).Msg(msg) }
func (retryLogger) Debug(msg string, kv ...interface{}) { log.Trace().Fields(kv).Msg(msg) }

var (
	_ core.LLMProvider            = (*EndpointLLM)(nil)
	_ retryablehttp.LeveledLogger = retryLogger{}
)
