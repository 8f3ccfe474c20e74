//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("IT_API_BASE"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

func webhookSecret() string { return os.Getenv("IT_WEBHOOK_SECRET") }

func postJSON(t *testing.T, path string, body any, wantCode int) []byte {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if s := webhookSecret(); s != "" {
		req.Header.Set("X-Webhook-Secret", s)
	}
	return doReq(t, req, wantCode)
}

func getPath(t *testing.T, path string, wantCode int) []byte {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, baseURL()+path, nil)
	return doReq(t, req, wantCode)
}

func doReq(t *testing.T, req *http.Request, wantCode int) []byte {
	t.Helper()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantCode {
		t.Fatalf("%s %s: got %d want %d body=%s", req.Method, req.URL, resp.StatusCode, wantCode, string(data))
	}
	return data
}
