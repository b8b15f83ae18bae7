package llm

import (
	"context"
	"strings"
)

// Ollama calls a local Ollama instance.
type Ollama struct {
	url   string
	model string
	http  transport
}

// NewOllama creates a new Ollama client.
func NewOllama(url, model string) *Ollama {
	return &Ollama{
		url:   strings.TrimRight(url, "/"),
		model: model,
		http:  newTransport("ollama"),
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a prompt to Ollama's non-streaming generate endpoint.
func (o *Ollama) Complete(ctx context.Context, prompt string) (*Response, error) {
	var out ollamaResponse
	err := o.http.post(ctx, o.url+"/api/generate", nil, ollamaRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: ollamaOptions{Temperature: 0.3, NumPredict: 1024},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content:    out.Response,
		Provider:   "ollama",
		TokensUsed: out.PromptEvalCount + out.EvalCount,
	}, nil
}
