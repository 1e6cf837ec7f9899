// Package testutil provides common test utilities and helpers for IntakePipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
// A string or []byte body is sent as is; anything else is marshaled.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	default:
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		raw = jsonData
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// NewSQLiteStore opens a SQLite store in a temporary directory that is
// closed when the test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedConversation inserts a conversation with the given raw context.
func SeedConversation(t *testing.T, st store.ConversationRepo, phone, name, rawContext string) models.Conversation {
	t.Helper()
	c := models.Conversation{
		ID:      "conv-" + phone,
		Phone:   phone,
		Name:    name,
		Status:  models.ConversationStatusActive,
		Context: rawContext,
	}
	if err := st.InsertConversation(context.Background(), c); err != nil {
		t.Fatalf("failed to seed conversation %s: %v", phone, err)
	}
	return c
}

// AssertConversationCount validates the number of stored conversations.
func AssertConversationCount(t *testing.T, st store.ConversationRepo, expected int, label string) {
	t.Helper()
	list, err := st.ListConversations(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("%s: failed to list conversations: %v", label, err)
	}
	if len(list) != expected {
		t.Errorf("%s: expected %d conversations, got %d", label, expected, len(list))
	}
}
