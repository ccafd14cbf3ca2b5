package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/agenthands/droneguard/internal/core/model"
)

// OpenAIClient also serves Ollama through its OpenAI-compatible API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	provider  string
}

func NewOpenAIClient(apiKey string, model string, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAIClient{
		client:    client,
		model:     model,
		maxTokens: 2048,
		provider:  "openai",
	}
}

func (c *OpenAIClient) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: inspectionPrompt + jsonContract},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, Classify(c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindMalformed, c.provider, "no response choices", nil)
	}
	return parseResult(c.provider, resp.Choices[0].Message.Content)
}
