package report

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agenthands/droneguard/internal/core/common"
	"github.com/agenthands/droneguard/internal/core/model"
)

const DefaultTitle = "Technical Inspection Report"

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTmpl = template.Must(
	template.New("report.html.tmpl").ParseFS(templateFS, "templates/report.html.tmpl"),
)

// Entry pairs an item with its source image bytes (nil when unavailable).
type Entry struct {
	Item  model.InspectionItem
	Image []byte
}

type Input struct {
	Title       string
	GeneratedAt time.Time
	Entries     []Entry
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	ID  string  `json:"id"`
}

type box struct {
	Top, Left, Width, Height string
	Severity                 string
}

type card struct {
	ID            string
	LineName      string
	ImageURL      template.URL
	Boxes         []box
	Location      string
	MapsURL       string
	Safe          bool
	Summary       string
	Anomalies     []model.Anomaly
	FeedbackClass string
	FeedbackLabel string
	Comments      string
	FileName      string
	Size          string
}

type page struct {
	Title          string
	GeneratedAt    string
	Year           int
	Structures     int
	TotalAnomalies int
	Cards          []card
	Points         []GeoPoint
}

// FileName is the download name for a report generated at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("Relatorio_DroneGuard_%d.html", t.UnixMilli())
}

func Generate(in Input) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, in); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render writes the report for the reportable entries of in, keeping order.
func Render(w io.Writer, in Input) error {
	if in.Title == "" {
		in.Title = DefaultTitle
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}

	p := page{
		Title:       in.Title,
		GeneratedAt: in.GeneratedAt.Format("2006-01-02 15:04:05"),
		Year:        in.GeneratedAt.Year(),
		Cards:       []card{},
		Points:      []GeoPoint{},
	}

	for _, e := range in.Entries {
		if !e.Item.Reportable() {
			continue
		}
		c := buildCard(e)
		p.Cards = append(p.Cards, c)
		p.TotalAnomalies += len(c.Anomalies)
		if pt, ok := geoPoint(e.Item); ok {
			p.Points = append(p.Points, pt)
		}
	}
	p.Structures = len(p.Cards)

	if err := reportTmpl.Execute(w, p); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func buildCard(e Entry) card {
	item := e.Item
	res := item.Result

	c := card{
		ID:        item.ID,
		LineName:  res.Line(),
		Safe:      res.SafeToOperate,
		Summary:   res.Summary,
		Anomalies: res.FoundAnomalies,
		FileName:  item.FileName,
		Size:      humanize.Bytes(uint64(item.Size)),
	}

	if len(e.Image) > 0 {
		mime := item.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		// Bytes come from our own store and the MIME type was sniffed on upload.
		c.ImageURL = template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(e.Image))
	}

	for _, a := range res.FoundAnomalies {
		if a.BoundingBox == nil {
			continue
		}
		top, left, width, height := a.BoundingBox.Percent()
		c.Boxes = append(c.Boxes, box{
			Top:      pct(top),
			Left:     pct(left),
			Width:    pct(width),
			Height:   pct(height),
			Severity: string(a.Severity),
		})
	}

	if res.HasLocation() {
		c.Location = res.Latitude + ", " + res.Longitude
		c.MapsURL = "https://www.google.com/maps/search/?api=1&query=" +
			common.CleanCoordinate(res.Latitude) + "," + common.CleanCoordinate(res.Longitude)
	}

	c.FeedbackClass = "none"
	c.FeedbackLabel = "PENDING"
	if fb := item.Feedback; fb != nil {
		if fb.Status != model.FeedbackNone {
			c.FeedbackClass = string(fb.Status)
		}
		if fb.Status == model.FeedbackApproved {
			c.FeedbackLabel = "APPROVED"
		}
		c.Comments = strings.TrimSpace(fb.Comments)
	}
	if c.Comments == "" {
		c.Comments = "No additional notes."
	}
	return c
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

// geoPoint parses the cleaned caption coordinates; unparsable values are skipped.
func geoPoint(item model.InspectionItem) (GeoPoint, bool) {
	if item.Result == nil || !item.Result.HasLocation() {
		return GeoPoint{}, false
	}
	lat, err := strconv.ParseFloat(common.CleanCoordinate(item.Result.Latitude), 64)
	if err != nil {
		return GeoPoint{}, false
	}
	lng, err := strconv.ParseFloat(common.CleanCoordinate(item.Result.Longitude), 64)
	if err != nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: lat, Lng: lng, ID: item.ID}, true
}

// GeoPoints returns the map markers for the reportable entries.
func GeoPoints(entries []Entry) []GeoPoint {
	out := []GeoPoint{}
	for _, e := range entries {
		if !e.Item.Reportable() {
			continue
		}
		if pt, ok := geoPoint(e.Item); ok {
			out = append(out, pt)
		}
	}
	return out
}
