package llm

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FallbackModel serves any model name without its own endpoint.
const FallbackModel = "LAWGPT-4"

const defaultEndpoint = "https://consequential-wettable-danika.ngrok-free.dev/generate"

// Endpoints maps a model name to the URL that generates its replies.
type Endpoints map[string]string

// DefaultEndpoints returns the built-in model table. A non-empty baseURL
// replaces the URL of every built-in model.
func DefaultEndpoints(baseURL string) Endpoints {
	url := defaultEndpoint
	if baseURL != "" {
		url = baseURL
	}
	return Endpoints{
		"LAWGPT-4":    url,
		"Legal-Pro":   url,
		"Contract-AI": url,
		"LitAssist":   url,
	}
}

type endpointsFile struct {
	Models map[string]string `yaml:"models"`
}

// LoadEndpoints overlays the models listed in a YAML file onto base:
//
//	models:
//	  LAWGPT-4: https://inference.example/generate
//	  Contract-AI: https://contracts.example/generate
func LoadEndpoints(path string, base Endpoints) (Endpoints, error) {
	out := Endpoints{}
	for k, v := range base {
		out[k] = v
	}
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model endpoints file")
	}
	var f endpointsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse model endpoints file")
	}
	for name, url := range f.Models {
		if url == "" {
			return nil, errors.Errorf("model %q has an empty url", name)
		}
		out[name] = url
	}
	if _, ok := out[FallbackModel]; !ok {
		return nil, errors.Errorf("no endpoint for fallback model %s", FallbackModel)
	}
	return out, nil
}

// Resolve returns the endpoint for model and the model name actually used.
func (e Endpoints) Resolve(model string) (url, used string) {
	if u, ok := e[model]; ok {
		return u, model
	}
	return e[FallbackModel], FallbackModel
}
