package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/agenthands/droneguard/internal/core/model"
)

const providerCustom = "custom"

// maxReplyBytes caps how much of an endpoint reply is read.
const maxReplyBytes = 4 << 20

// CustomClient posts {image, mimeType} to a user-operated endpoint.
type CustomClient struct {
	endpoint     string
	responsePath string
	client       *http.Client
}

func NewCustomClient(endpoint, responsePath string, timeout time.Duration) *CustomClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CustomClient{
		endpoint:     endpoint,
		responsePath: responsePath,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

type customRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

func (c *CustomClient) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	body, err := json.Marshal(customRequest{
		Image:    base64.StdEncoding.EncodeToString(img.Data),
		MimeType: img.MimeType,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindNotConfigured, providerCustom, "invalid endpoint", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NewError(KindUnavailable, providerCustom, "connection failed", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, NewError(KindUnavailable, providerCustom, "failed to read reply", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       kindForStatus(resp.StatusCode),
			Provider:   providerCustom,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(reply), 200)),
		}
	}

	text := string(reply)
	if c.responsePath != "" {
		v := gjson.GetBytes(reply, c.responsePath)
		if !v.Exists() {
			return nil, NewError(KindMalformed, providerCustom,
				fmt.Sprintf("response path %q not found", c.responsePath), nil)
		}
		if v.Type == gjson.String {
			// Some gateways wrap the model output as a JSON string.
			text = v.String()
		} else {
			text = v.Raw
		}
	}
	return parseResult(providerCustom, text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
