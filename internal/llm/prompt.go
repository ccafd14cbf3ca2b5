package llm

import (
	"github.com/google/generative-ai-go/genai"

	"github.com/agenthands/droneguard/internal/core/common"
	"github.com/agenthands/droneguard/internal/core/model"
)

const inspectionPrompt = `You are an expert in industrial inspection of electric power transmission lines.
Analyze this drone photo and:
1. Identify anomalies (loose cables, loose bolts, cracks, corrosion).
2. SPATIAL LOCATION: for each anomaly, provide boundingBox [ymin, xmin, ymax, xmax] normalized to 0-1000.
3. METADATA OCR: look closely at the top-left corner of the image. Extract the Latitude, Longitude and the transmission line name written in the overlaid caption.
4. Format Latitude and Longitude as decimal numbers when possible.

If there are no anomalies, return an empty list but still extract the caption metadata.`

// jsonContract is appended for providers without schema-constrained output.
const jsonContract = `

Respond with JSON only, matching:
{"foundAnomalies": [{"type": "Loose Cable | Loose Bolt | Crack | Corrosion | Other", "description": "...", "severity": "low | medium | high | critical", "location_hint": "...", "boundingBox": [ymin, xmin, ymax, xmax]}],
 "summary": "overall condition of the structure", "safeToOperate": true, "latitude": "-23.5505", "longitude": "-46.6333", "lineName": "..."}`

func inspectionSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	anomaly := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type":          str("Anomaly type found (Loose Cable, Loose Bolt, Crack, Corrosion, Other)."),
			"description":   str("Detailed description of the problem."),
			"severity":      str("Severity of the problem (low, medium, high, critical)."),
			"location_hint": str("Hint about where in the photo the problem is."),
			"boundingBox": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeNumber},
				Description: "Coordinates [ymin, xmin, ymax, xmax] normalized 0-1000 enclosing the anomaly.",
			},
		},
		Required: []string{"type", "description", "severity", "boundingBox"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"foundAnomalies": {Type: genai.TypeArray, Items: anomaly},
			"summary":        str("General summary of the condition of the structure in this photo."),
			"safeToOperate": {
				Type:        genai.TypeBoolean,
				Description: "Whether the structure looks safe for immediate operation.",
			},
			"latitude":  str("Latitude read from the image caption, if available. Ex: -23.5505"),
			"longitude": str("Longitude read from the image caption, if available. Ex: -46.6333"),
			"lineName":  str("Name or identifier of the transmission line read from the image."),
		},
		Required: []string{"foundAnomalies", "summary", "safeToOperate"},
	}
}

// parseResult decodes model output into an AnalysisResult.
func parseResult(provider, text string) (*model.AnalysisResult, error) {
	res, err := common.ParseJSON[model.AnalysisResult](text)
	if err != nil {
		return nil, NewError(KindMalformed, provider, "failed to parse analysis result", err)
	}
	if res.FoundAnomalies == nil {
		res.FoundAnomalies = []model.Anomaly{}
	}
	return &res, nil
}
