package llm

import (
	"context"
	"encoding/base64"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/agenthands/droneguard/internal/core/model"
)

const providerClaude = "claude"

type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

func NewClaudeClient(apiKey string, model string, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client:    anthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: 2048,
	}
}

func (c *ClaudeClient) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	source := anthropic.NewMessageContentSource(
		anthropic.MessagesContentSourceTypeBase64,
		img.MimeType,
		base64.StdEncoding.EncodeToString(img.Data),
	)
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(source),
					anthropic.NewTextMessageContent(inspectionPrompt + jsonContract),
				},
			},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, Classify(providerClaude, err)
	}

	for _, content := range resp.Content {
		if content.Text != nil {
			return parseResult(providerClaude, *content.Text)
		}
	}
	return nil, NewError(KindMalformed, providerClaude, "no response content", nil)
}
