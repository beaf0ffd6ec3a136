package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/vinchx/chitchat/pkg/model"
)

// Generator produces a reply to prompt given the recent room history.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []model.Message) (string, error)
}

type GeneratorFunc func(ctx context.Context, prompt string, history []model.Message) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, history []model.Message) (string, error) {
	return f(ctx, prompt, history)
}

type turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	History []turn `json:"history"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// HTTPGenerator posts {prompt, history} to a completion endpoint and reads
// back {text}.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *fasthttp.Client
}

func NewHTTPGenerator(endpoint, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &fasthttp.Client{
			Name:                "chitchat-responder",
			MaxConnsPerHost:     64,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        5 * time.Second,
			MaxResponseBodySize: 1 << 20,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, history []model.Message) (string, error) {
	body := generateRequest{Prompt: prompt, History: make([]turn, 0, len(history))}
	for _, m := range history {
		body.History = append(body.History, turn{Sender: m.SenderID, Text: m.Body})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	req.SetBody(payload)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := g.client.DoDeadline(req, resp, deadline); err != nil {
		return "", err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return "", fmt.Errorf("generator returned status %d", code)
	}

	var out generateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	return out.Text, nil
}
