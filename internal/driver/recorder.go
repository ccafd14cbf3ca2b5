package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/droneguard/internal/core/model"
)

// Recorder mirrors completed inspections into the graph as
// (:Line)-[:HAS_INSPECTION]->(:Inspection)-[:HAS_ANOMALY]->(:Anomaly).
type Recorder struct {
	Driver GraphDriver
}

func NewRecorder(d GraphDriver) *Recorder {
	return &Recorder{Driver: d}
}

type LineSummary struct {
	Line        string `json:"line"`
	Inspections int64  `json:"inspections"`
	Anomalies   int64  `json:"anomalies"`
	Critical    int64  `json:"critical"`
}

func (r *Recorder) RecordInspection(ctx context.Context, item model.InspectionItem) error {
	if item.Result == nil {
		return fmt.Errorf("inspection %s has no result", item.ID)
	}
	_, err := r.Driver.ExecuteQuery(ctx, SaveInspectionQuery, inspectionParams(item))
	if err != nil {
		return fmt.Errorf("failed to record inspection %s: %w", item.ID, err)
	}
	return nil
}

func (r *Recorder) RecordFeedback(ctx context.Context, id string, fb model.UserFeedback) error {
	_, err := r.Driver.ExecuteQuery(ctx, SetFeedbackQuery, map[string]interface{}{
		"id":       id,
		"feedback": string(fb.Status),
		"comments": fb.Comments,
	})
	return err
}

func (r *Recorder) RemoveInspection(ctx context.Context, id string) error {
	_, err := r.Driver.ExecuteQuery(ctx, DeleteInspectionQuery, map[string]interface{}{"id": id})
	return err
}

func (r *Recorder) ClearInspections(ctx context.Context) error {
	_, err := r.Driver.ExecuteQuery(ctx, ClearInspectionsQuery, nil)
	return err
}

func (r *Recorder) LineSummaries(ctx context.Context) ([]LineSummary, error) {
	res, err := r.Driver.ExecuteQuery(ctx, LineSummaryQuery, nil)
	if err != nil {
		return nil, err
	}

	out := make([]LineSummary, 0, len(res.Records))
	for _, rec := range res.Records {
		var s LineSummary
		if s.Line, _, err = neo4j.GetRecordValue[string](rec, "line"); err != nil {
			return nil, err
		}
		if s.Inspections, _, err = neo4j.GetRecordValue[int64](rec, "inspections"); err != nil {
			return nil, err
		}
		if s.Anomalies, _, err = neo4j.GetRecordValue[int64](rec, "anomalies"); err != nil {
			return nil, err
		}
		if s.Critical, _, err = neo4j.GetRecordValue[int64](rec, "critical"); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func inspectionParams(item model.InspectionItem) map[string]interface{} {
	res := item.Result
	line := res.Line()

	anomalies := make([]interface{}, 0, len(res.FoundAnomalies))
	for _, a := range res.FoundAnomalies {
		var bbox []interface{}
		if a.BoundingBox != nil {
			bbox = []interface{}{a.BoundingBox[0], a.BoundingBox[1], a.BoundingBox[2], a.BoundingBox[3]}
		}
		anomalies = append(anomalies, map[string]interface{}{
			"type":          a.Type,
			"description":   a.Description,
			"severity":      string(a.Severity),
			"location_hint": a.LocationHint,
			"bounding_box":  bbox,
		})
	}

	feedback := ""
	if item.Feedback != nil {
		feedback = string(item.Feedback.Status)
	}

	return map[string]interface{}{
		"id":              item.ID,
		"line_name":       line,
		"file_name":       item.FileName,
		"hash":            item.Hash,
		"status":          string(item.Status),
		"summary":         res.Summary,
		"safe_to_operate": res.SafeToOperate,
		"latitude":        res.Latitude,
		"longitude":       res.Longitude,
		"feedback":        feedback,
		"created_at":      item.CreatedAt.UnixMilli(),
		"updated_at":      item.UpdatedAt.UnixMilli(),
		"anomalies":       anomalies,
	}
}
