//go:build integration

package integration

import (
	"encoding/json"
	"testing"
)

// Expects a running dispatcher (IT_API_BASE) with the sample rule table and a
// migrated database. The webhook endpoint is exercised with synthetic
// datastore events; unrelated events must be acknowledged without action.

func TestWebhook_UnrelatedEventIsNoAction(t *testing.T) {
	body := postJSON(t, "/api/v1/events", map[string]any{
		"type":   "DELETE",
		"table":  "case_users",
		"record": map[string]any{"case_id": 1, "user_id": 1},
	}, 200)

	var resp struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Action != "none" {
		t.Fatalf("action: got %q want %q", resp.Action, "none")
	}
}

func TestWebhook_MalformedEnvelopeRejected(t *testing.T) {
	postJSON(t, "/api/v1/events", map[string]any{"table": "cases"}, 400)
}

func TestScan_ReportsExaminedCount(t *testing.T) {
	body := postJSON(t, "/api/v1/scan", nil, 200)

	var rep struct {
		Examined  int `json:"examined"`
		Generated int `json:"generated"`
	}
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Examined < 0 || rep.Generated > rep.Examined {
		t.Fatalf("implausible scan report: %+v", rep)
	}

	// A second scan on the same day must coalesce on the (case, day) key.
	body = postJSON(t, "/api/v1/scan", nil, 200)
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Generated != 0 {
		t.Fatalf("second scan generated %d new entries, want 0", rep.Generated)
	}
}

func TestResolution_UnknownCaseIs404(t *testing.T) {
	getPath(t, "/api/v1/cases/999999999/resolution", 404)
}
