package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPlayerURL(t *testing.T) {
	testServer(t)

	url := PlayerURL("h5p-42", "alice")
	if !strings.HasPrefix(url, "http://h5p.test/play/h5p-42?") {
		t.Errorf("unexpected player URL: %s", url)
	}
	if !strings.Contains(url, "webhookUrl=http%3A%2F%2Fbridge.test%2Fv2%2Fresults") {
		t.Errorf("player URL missing webhook: %s", url)
	}
	if !strings.Contains(url, "userId=alice") {
		t.Errorf("player URL missing user: %s", url)
	}
}

func TestCallbackURL(t *testing.T) {
	testServer(t)

	if got := callbackURL(""); got != "http://bridge.test/callback" {
		t.Errorf("got %s", got)
	}
	if got := callbackURL("3"); got != "http://bridge.test/callback?course_id=3" {
		t.Errorf("got %s", got)
	}
}

func TestFetchRemoteContentsBareArray(t *testing.T) {
	testServer(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/content" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"id":"a","title":"Alpha"},{"id":"b","title":"Beta"}]`))
	}))
	defer backend.Close()
	Config.H5PServerURL = backend.URL

	list := FetchRemoteContents()
	if len(list) != 2 || list[0].ID != "a" || list[1].Title != "Beta" {
		t.Errorf("got %+v", list)
	}
}

func TestFetchRemoteContentsWrapped(t *testing.T) {
	testServer(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"id":"a","title":"Alpha"}]}`))
	}))
	defer backend.Close()
	Config.H5PServerURL = backend.URL

	list := FetchRemoteContents()
	if len(list) != 1 || list[0].ID != "a" {
		t.Errorf("got %+v", list)
	}
}

func TestGetRemoteContentsDegradesToEmpty(t *testing.T) {
	m := testServer(t)

	// nothing is listening here
	Config.H5PServerURL = "http://127.0.0.1:1"

	w := doJSON(t, m, "GET", "/v2/remote/contents", nil)
	mustStatus(t, w, http.StatusOK)
	list := []*RemoteContent{}
	decodeJSON(t, w, &list)
	if len(list) != 0 {
		t.Errorf("got %+v, want empty list", list)
	}
}

func TestGetRemoteContentsUpstreamError(t *testing.T) {
	m := testServer(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()
	Config.H5PServerURL = backend.URL

	w := doJSON(t, m, "GET", "/v2/remote/contents", nil)
	mustStatus(t, w, http.StatusOK)
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("got body %q, want []", body)
	}
}

func TestRedirectNewContent(t *testing.T) {
	m := testServer(t)

	req := httptest.NewRequest("GET", "/new?course_id=5", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("got status %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, "http://h5p.test/new?") {
		t.Errorf("unexpected redirect: %s", location)
	}
	if !strings.Contains(location, "course_id%3D5") {
		t.Errorf("course not carried through callback: %s", location)
	}
}
