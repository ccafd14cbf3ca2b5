package model

import (
	"encoding/json"
	"strings"
)

// DefaultLineName labels inspections whose caption carried no line name.
const DefaultLineName = "DISTRIBUTION NETWORK"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityAliases = map[string]Severity{
	"low":      SeverityLow,
	"baixo":    SeverityLow,
	"baixa":    SeverityLow,
	"medium":   SeverityMedium,
	"moderate": SeverityMedium,
	"médio":    SeverityMedium,
	"medio":    SeverityMedium,
	"média":    SeverityMedium,
	"high":     SeverityHigh,
	"alto":     SeverityHigh,
	"alta":     SeverityHigh,
	"critical": SeverityCritical,
	"crítico":  SeverityCritical,
	"critico":  SeverityCritical,
	"crítica":  SeverityCritical,
}

// ParseSeverity maps model-produced labels onto the canonical set.
// Unknown labels are kept verbatim.
func ParseSeverity(s string) Severity {
	key := strings.ToLower(strings.TrimSpace(s))
	if sev, ok := severityAliases[key]; ok {
		return sev
	}
	return Severity(strings.TrimSpace(s))
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSeverity(raw)
	return nil
}

// IsCritical is true for the severities counted as critical issues.
func (s Severity) IsCritical() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// BoundingBox is [ymin, xmin, ymax, xmax] normalised to 0-1000.
type BoundingBox [4]float64

func (b BoundingBox) YMin() float64 { return b[0] }
func (b BoundingBox) XMin() float64 { return b[1] }
func (b BoundingBox) YMax() float64 { return b[2] }
func (b BoundingBox) XMax() float64 { return b[3] }

// Percent returns top, left, width and height as percentages of the image.
func (b BoundingBox) Percent() (top, left, width, height float64) {
	return b.YMin() / 10, b.XMin() / 10, (b.XMax() - b.XMin()) / 10, (b.YMax() - b.YMin()) / 10
}

type Anomaly struct {
	Type         string       `json:"type"`
	Description  string       `json:"description"`
	Severity     Severity     `json:"severity"`
	LocationHint string       `json:"location_hint,omitempty"`
	BoundingBox  *BoundingBox `json:"boundingBox,omitempty"`
}

// AnalysisResult is the reply of the inference service, as parsed.
type AnalysisResult struct {
	FoundAnomalies []Anomaly `json:"foundAnomalies"`
	Summary        string    `json:"summary"`
	SafeToOperate  bool      `json:"safeToOperate"`
	Latitude       string    `json:"latitude,omitempty"`
	Longitude      string    `json:"longitude,omitempty"`
	LineName       string    `json:"lineName,omitempty"`
}

func (r AnalysisResult) Clone() AnalysisResult {
	c := r
	if r.FoundAnomalies != nil {
		c.FoundAnomalies = make([]Anomaly, len(r.FoundAnomalies))
		copy(c.FoundAnomalies, r.FoundAnomalies)
		for i, a := range r.FoundAnomalies {
			if a.BoundingBox != nil {
				bb := *a.BoundingBox
				c.FoundAnomalies[i].BoundingBox = &bb
			}
		}
	}
	return c
}

func (r AnalysisResult) HasLocation() bool {
	return r.Latitude != "" && r.Longitude != ""
}

func (r AnalysisResult) CriticalCount() int {
	n := 0
	for _, a := range r.FoundAnomalies {
		if a.Severity.IsCritical() {
			n++
		}
	}
	return n
}

// Line returns the transmission line read from the caption, or
// DefaultLineName when none was found.
func (r AnalysisResult) Line() string {
	if strings.TrimSpace(r.LineName) == "" {
		return DefaultLineName
	}
	return r.LineName
}
