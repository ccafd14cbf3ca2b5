package server

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/droneguard/internal/core"
	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/core/report"
	"github.com/agenthands/droneguard/internal/store"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrBatchRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotImage), errors.Is(err, core.ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"batch_running": s.Inspector.BatchRunning(),
		"ws_clients":    s.Hub.ClientCount(),
	})
}

type rejectedFile struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

func (s *Server) UploadImages(c *gin.Context) {
	if c.Request.ContentLength > s.MaxUploadBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWith(c, err)
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "expected multipart form with 'files'"})
		return
	}

	files := append(form.File["files"], form.File["file"]...)
	if len(files) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}

	items := []model.InspectionItem{}
	duplicates := []model.InspectionItem{}
	rejected := []rejectedFile{}
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			rejected = append(rejected, rejectedFile{File: fh.Filename, Error: err.Error()})
			continue
		}
		item, created, err := s.Inspector.Add(c.Request.Context(), fh.Filename, data)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				abortWith(c, err)
				return
			}
			rejected = append(rejected, rejectedFile{File: fh.Filename, Error: err.Error()})
			continue
		}
		if !created {
			duplicates = append(duplicates, item)
			continue
		}
		items = append(items, item)
	}

	// Items are new, duplicates are earlier uploads of the same photo.
	status := http.StatusCreated
	switch {
	case len(items) == 0 && len(duplicates) > 0:
		status = http.StatusOK
	case len(items) == 0:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"items": items, "duplicates": duplicates, "rejected": rejected})
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) ListImages(c *gin.Context) {
	items, err := s.Inspector.List(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) GetImage(c *gin.Context) {
	item, err := s.Inspector.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) ImageSource(c *gin.Context) {
	data, item, err := s.Inspector.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, item.MimeType, data)
}

func (s *Server) AnalyzeImage(c *gin.Context) {
	item, err := s.Inspector.Analyze(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) StartBatch(c *gin.Context) {
	if err := s.Inspector.StartBatch(s.BaseCtx); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) BatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.Inspector.BatchRunning()})
}

func (s *Server) SetFeedback(c *gin.Context) {
	var fb model.UserFeedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	item, err := s.Inspector.SetFeedback(c.Request.Context(), c.Param("id"), fb)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) RemoveImage(c *gin.Context) {
	if err := s.Inspector.Remove(c.Request.Context(), c.Param("id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ClearImages(c *gin.Context) {
	if err := s.Inspector.Clear(c.Request.Context()); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.Inspector.Stats(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) Report(c *gin.Context) {
	now := s.Now()
	html, err := s.Inspector.Report(c.Request.Context(), now)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.FileName(now)+`"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) GeoPoints(c *gin.Context) {
	items, err := s.Inspector.List(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	entries := make([]report.Entry, len(items))
	for i, it := range items {
		entries[i] = report.Entry{Item: it}
	}
	c.JSON(http.StatusOK, gin.H{"points": report.GeoPoints(entries)})
}

func (s *Server) LineSummaries(c *gin.Context) {
	if s.Lines == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "graph recorder not configured"})
		return
	}
	lines, err := s.Lines.LineSummaries(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (s *Server) Events(c *gin.Context) {
	s.Hub.ServeWS(c.Writer, c.Request)
}
