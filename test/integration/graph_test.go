//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/driver"
)

func connectMemgraph(t *testing.T) *driver.MemgraphDriver {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}

	ctx := context.Background()
	d, err := driver.NewMemgraphDriver(ctx, uri, os.Getenv("MEMGRAPH_USER"), os.Getenv("MEMGRAPH_PASSWORD"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(context.Background()) })
	require.NoError(t, d.BuildIndices(ctx))
	return d
}

func completedItem(line string, anomalies ...model.Anomaly) model.InspectionItem {
	now := time.Now()
	return model.InspectionItem{
		ID:        uuid.New().String(),
		FileName:  "tower.jpg",
		MimeType:  "image/jpeg",
		Hash:      uuid.New().String(),
		Status:    model.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
		Result: &model.AnalysisResult{
			Summary:        "integration check",
			SafeToOperate:  len(anomalies) == 0,
			LineName:       line,
			Latitude:       "-22.9068",
			Longitude:      "-43.1729",
			FoundAnomalies: anomalies,
		},
	}
}

func findLine(t *testing.T, rec *driver.Recorder, line string) (driver.LineSummary, bool) {
	t.Helper()
	lines, err := rec.LineSummaries(context.Background())
	require.NoError(t, err)
	for _, l := range lines {
		if l.Line == line {
			return l, true
		}
	}
	return driver.LineSummary{}, false
}

func TestRecorder_LineSummaries(t *testing.T) {
	d := connectMemgraph(t)
	rec := driver.NewRecorder(d)
	ctx := context.Background()
	line := "LT " + uuid.New().String()[:8]

	bbox := model.BoundingBox{100, 200, 300, 400}
	first := completedItem(line,
		model.Anomaly{Type: "Insulator", Description: "Cracked disc", Severity: model.SeverityCritical, BoundingBox: &bbox},
		model.Anomaly{Type: "Hardware", Description: "Loose bolt", Severity: model.SeverityLow},
	)
	second := completedItem(line)

	require.NoError(t, rec.RecordInspection(ctx, first))
	require.NoError(t, rec.RecordInspection(ctx, second))

	// Re-recording replaces anomalies rather than appending.
	require.NoError(t, rec.RecordInspection(ctx, first))

	got, ok := findLine(t, rec, line)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.Inspections)
	assert.EqualValues(t, 2, got.Anomalies)
	assert.EqualValues(t, 1, got.Critical)

	require.NoError(t, rec.RecordFeedback(ctx, first.ID, model.UserFeedback{Status: model.FeedbackApproved, Comments: "confirmed"}))

	require.NoError(t, rec.RemoveInspection(ctx, first.ID))
	require.NoError(t, rec.RemoveInspection(ctx, second.ID))
	got, ok = findLine(t, rec, line)
	if ok {
		assert.EqualValues(t, 0, got.Inspections)
	}
}
