package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-martini/martini"
	"github.com/russross/meddler"
)

// testServer swaps in a fresh in-memory database and returns a fully routed
// server instance.
func testServer(t *testing.T) *martini.Martini {
	t.Helper()

	meddler.Default = meddler.SQLite
	handle, err := sql.Open("sqlite3", ":memory:?_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	// a second connection would see a fresh empty in-memory database
	handle.SetMaxOpenConns(1)

	if _, err := handle.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	t.Cleanup(func() { handle.Close() })
	db = handle

	Config.PublicURL = "http://bridge.test"
	Config.H5PServerURL = "http://h5p.test"
	Config.SessionSecret = "test-secret-test-secret-test-secret"
	Config.ToolName = "H5P Bridge"
	Config.ToolID = "h5pbridge"
	Config.RemoteTimeout = 1

	return newServer("../templates")
}

func doJSON(t *testing.T, m *martini.Martini, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("got status %d, want %d: %s", w.Code, want, w.Body.String())
	}
}

// addContent inserts a content reference directly.
func addContent(t *testing.T, h5pID, title string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO contents (h5p_id, title, created_at, updated_at) VALUES (?, ?, datetime('now'), datetime('now'))`, h5pID, title)
	if err != nil {
		t.Fatalf("inserting content: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("content insert ID: %v", err)
	}
	return id
}
