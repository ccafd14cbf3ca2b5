package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/agenthands/droneguard/internal/core/model"
)

const providerGemini = "gemini"

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey string, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, Classify(providerGemini, err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

func (c *GeminiClient) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	m := c.client.GenerativeModel(c.model)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = inspectionSchema()

	resp, err := m.GenerateContent(ctx,
		genai.Text(inspectionPrompt),
		genai.Blob{MIMEType: img.MimeType, Data: img.Data},
	)
	if err != nil {
		return nil, Classify(providerGemini, err)
	}

	return geminiResult(resp)
}

// geminiResult joins the text parts of the first candidate and parses them.
func geminiResult(resp *genai.GenerateContentResponse) (*model.AnalysisResult, error) {
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
	}
	if sb.Len() == 0 {
		return nil, NewError(KindMalformed, providerGemini, "no response candidates or content", nil)
	}
	return parseResult(providerGemini, sb.String())
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}
