package llm

import (
	"context"

	"github.com/agenthands/droneguard/internal/core/model"
)

// ImageInput is the payload sent to an analyzer: raw bytes plus MIME type.
type ImageInput struct {
	Data     []byte
	MimeType string
}

// Analyzer turns one inspection photo into a structured result.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, img ImageInput) (*model.AnalysisResult, error)

func (f AnalyzerFunc) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	return f(ctx, img)
}

// Closer is implemented by analyzers holding SDK connections.
type Closer interface {
	Close() error
}
