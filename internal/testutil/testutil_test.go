package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
)

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":{"id":"1"}}`)

	response := AssertJSONResponse(t, rr, "ok")
	if response["result"] == nil {
		t.Error("expected decoded result field")
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
		want   string
	}{
		{name: "no body", method: "GET", url: "/health", body: nil, want: ""},
		{name: "raw string", method: "POST", url: "/webhook/whatsapp", body: `{"event":"messages.upsert"}`, want: `{"event":"messages.upsert"}`},
		{name: "marshaled map", method: "POST", url: "/api/ai/process-message", body: map[string]string{"phone": "5511"}, want: `{"phone":"5511"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)
			if req.Method != tt.method || req.URL.Path != tt.url {
				t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			}
			got, _ := io.ReadAll(req.Body)
			if string(got) != tt.want {
				t.Errorf("expected body %q, got %q", tt.want, got)
			}
			if tt.body != nil && req.Header.Get("Content-Type") != "application/json" {
				t.Error("expected JSON content type")
			}
		})
	}
}

func TestSeedConversation(t *testing.T) {
	st := NewSQLiteStore(t)
	SeedConversation(t, st, "5511", "Ana", `{"stage":"greeting","message_count":3}`)
	AssertConversationCount(t, st, 1, "after seed")

	c, err := st.GetConversation(context.Background(), "5511")
	if err != nil || c == nil {
		t.Fatalf("seeded conversation not found: %v", err)
	}
	var ctx map[string]any
	if err := json.Unmarshal([]byte(c.Context), &ctx); err != nil || ctx["stage"] != "greeting" {
		t.Errorf("unexpected stored context %q", c.Context)
	}
}
