package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

func main() {
	if u := os.Getenv("DRONEGUARD_URL"); u != "" {
		baseURL = u
	}

	fmt.Println("Starting Integration Test...")
	if !waitHealthy(30 * time.Second) {
		fmt.Println("FAILED: server not healthy")
		os.Exit(1)
	}

	// 1. Upload
	fmt.Println("1. Uploading frame...")
	frame, err := syntheticFrame(time.Now().UnixNano())
	if err != nil {
		fmt.Printf("FAILED: encode frame: %v\n", err)
		os.Exit(1)
	}
	var uploaded struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if !upload("smoke-frame.jpg", frame, &uploaded) || len(uploaded.Items) != 1 {
		fmt.Println("FAILED: Upload")
		os.Exit(1)
	}
	id := uploaded.Items[0].ID
	fmt.Println("PASSED: Upload", id)

	// 2. Analyze
	fmt.Println("2. Analyzing...")
	var item struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if !sendRequest("POST", "/api/images/"+id+"/analyze", nil, http.StatusOK, &item) {
		fmt.Println("FAILED: Analyze")
		os.Exit(1)
	}
	fmt.Printf("PASSED: Analyze (status=%s %s)\n", item.Status, item.Error)

	// 3. Feedback, only accepted on completed items
	if item.Status == "completed" {
		fmt.Println("3. Approving...")
		fb := map[string]string{"status": "approved", "comments": "smoke test"}
		if !sendRequest("PUT", "/api/images/"+id+"/feedback", fb, http.StatusOK, nil) {
			fmt.Println("FAILED: Feedback")
			os.Exit(1)
		}
		fmt.Println("PASSED: Feedback")
	}

	// 4. Report
	fmt.Println("4. Exporting report...")
	if !sendRequest("GET", "/api/report", nil, http.StatusOK, nil) {
		fmt.Println("FAILED: Report")
		os.Exit(1)
	}
	fmt.Println("PASSED: Report")

	// 5. Cleanup
	if !sendRequest("DELETE", "/api/images/"+id, nil, http.StatusNoContent, nil) {
		fmt.Println("FAILED: Delete")
		os.Exit(1)
	}
	fmt.Println("PASSED: Delete")
}

func waitHealthy(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(time.Second)
	}
	return false
}

// syntheticFrame draws a unique frame so repeated runs never hit the
// duplicate-upload path.
func syntheticFrame(seed int64) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.RGBA{R: uint8(seed >> 8), G: uint8(x + y), B: uint8(seed), A: 255})
		}
	}
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, nil)
	return buf.Bytes(), err
}

func upload(name string, data []byte, out interface{}) bool {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", name)
	if err != nil {
		fmt.Printf("Error creating form: %v\n", err)
		return false
	}
	part.Write(data)
	w.Close()

	req, err := http.NewRequest("POST", baseURL+"/api/images", &body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do(req, http.StatusCreated, out)
}

func sendRequest(method, endpoint string, payload interface{}, want int, out interface{}) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, want, out)
}

func do(req *http.Request, want int, out interface{}) bool {
	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return false
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			fmt.Printf("Error decoding response: %v\n", err)
			return false
		}
	}
	fmt.Printf("Response: %d bytes\n", len(respBody))
	return true
}
