// Package llm is the skeleton generator boundary: it turns an utterance and
// the optional previous graph state into a typed skeleton, or a generation
// error. Nothing untyped leaves this package.
package llm

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mindweave/api/internal/graph"
)

// ErrGeneration marks any failure of the generator: transport errors,
// timeouts, unparseable or invalid output. The utterance that triggered the
// call stays saved; no graph version is produced.
var ErrGeneration = errors.New("skeleton generation failed")

//go:embed prompts/*.txt
var promptFS embed.FS

const systemPrompt = "You maintain a shared mind-map of a design object discussed in a collaboration session. You answer with a single JSON document and nothing else."

type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration

	newPrompt    string
	updatePrompt string
}

func New(apiKey, model string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is not configured")
	}
	newPrompt, err := loadPrompt("prompts/skeleton_new.txt")
	if err != nil {
		return nil, err
	}
	updatePrompt, err := loadPrompt("prompts/skeleton_update.txt")
	if err != nil {
		return nil, err
	}
	return &Client{
		api:          openai.NewClient(apiKey),
		model:        model,
		timeout:      timeout,
		newPrompt:    newPrompt,
		updatePrompt: updatePrompt,
	}, nil
}

func loadPrompt(name string) (string, error) {
	data, err := promptFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	return string(data), nil
}

// GenerateSkeleton asks the model for an incremental mind-map update. prev
// is nil for a session's first utterance ("create new graph").
func (c *Client) GenerateSkeleton(ctx context.Context, utterance string, prev *graph.State) (graph.Skeleton, error) {
	prompt, err := c.buildPrompt(utterance, prev)
	if err != nil {
		return graph.Skeleton{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return graph.Skeleton{}, fmt.Errorf("%w: chat completion: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return graph.Skeleton{}, fmt.Errorf("%w: model returned no choices", ErrGeneration)
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	sk, err := graph.ParseSkeleton([]byte(content))
	if err != nil {
		log.Printf("llm: rejecting model output: %v", err)
		return graph.Skeleton{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return sk, nil
}

func (c *Client) buildPrompt(utterance string, prev *graph.State) (string, error) {
	if prev == nil {
		return strings.ReplaceAll(c.newPrompt, "{{UTTERANCE}}", utterance), nil
	}
	prevJSON, err := json.Marshal(prev)
	if err != nil {
		return "", fmt.Errorf("marshal previous state: %w", err)
	}
	prompt := strings.ReplaceAll(c.updatePrompt, "{{UTTERANCE}}", utterance)
	return strings.ReplaceAll(prompt, "{{PREV_STATE}}", string(prevJSON)), nil
}

// GenerateCoverImage renders a PNG for the session's current design object.
// Used only on the background path; every failure is logged and dropped.
func (c *Client) GenerateCoverImage(ctx context.Context, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image response has no data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return data, nil
}

// stripCodeFence unwraps ```json fences some models insist on adding.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
