package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestReply = `{
  "summary": "Bird nest on crossarm",
  "safeToOperate": false,
  "lineName": "LT 69kV",
  "foundAnomalies": [
    {"type": "Nest", "description": "Bird nest near insulator string", "severity": "Alto"}
  ]
}`

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANALYSIS_MODE", "CUSTOM_ENDPOINT", "STORAGE_DRIVER", "MEMGRAPH_URI", "WATCH_DIR", "PORT", "CONFIG_PATH"} {
		t.Setenv(key, "")
	}
}

func writeFixtures(t *testing.T, endpoint string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[analysis]
mode = "custom"
custom_endpoint = "`+endpoint+`"

[batch]
delay = "0s"

[retry]
max_attempts = 1
initial_delay = "10ms"
`), 0644))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeCommand_WritesReport(t *testing.T) {
	isolateEnv(t)
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(nestReply))
	}))
	defer api.Close()

	dir, cfgPath := writeFixtures(t, api.URL)
	a := filepath.Join(dir, "tower-a.jpg")
	b := filepath.Join(dir, "tower-b.jpg")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(a, []byte("\xFF\xD8\xFF\xE0tower-a"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("\xFF\xD8\xFF\xE0tower-b"), 0644))
	require.NoError(t, os.WriteFile(notes, []byte("flight notes"), 0644))
	out := filepath.Join(dir, "report.html")

	stdout, err := execute(t, "--config", cfgPath, "analyze", "--out", out, a, b, notes)
	require.NoError(t, err, stdout)

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, stdout, "skip "+notes)
	assert.Contains(t, stdout, "attempted 2, succeeded 2, failed 0, skipped 0")
	assert.Contains(t, stdout, "report written to "+out)

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Bird nest on crossarm")
	assert.Contains(t, string(html), "LT 69kV")
}

func TestAnalyzeCommand_FailedItemsStayOutOfReport(t *testing.T) {
	isolateEnv(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer api.Close()

	dir, cfgPath := writeFixtures(t, api.URL)
	img := filepath.Join(dir, "tower.jpg")
	require.NoError(t, os.WriteFile(img, []byte("\xFF\xD8\xFF\xE0tower"), 0644))
	out := filepath.Join(dir, "report.html")

	stdout, err := execute(t, "--config", cfgPath, "analyze", "--out", out, img)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "attempted 1, succeeded 0, failed 1")
	assert.Contains(t, stdout, "tower.jpg")

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(html), `data-id=`)
}

func TestAnalyzeCommand_NoImages(t *testing.T) {
	isolateEnv(t)
	dir, cfgPath := writeFixtures(t, "http://127.0.0.1:59998/analyze")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("flight notes"), 0644))

	_, err := execute(t, "--config", cfgPath, "analyze", notes)
	assert.ErrorContains(t, err, "no images")
}

func TestAnalyzeCommand_RequiresArgs(t *testing.T) {
	_, err := execute(t, "analyze")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "droneguard test")
}
