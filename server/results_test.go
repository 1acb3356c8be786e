package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/openlmsdev/h5pbridge/types"
)

func statement(raw, max interface{}, completed bool, verb string) json.RawMessage {
	result := map[string]interface{}{"completion": completed}
	score := map[string]interface{}{}
	if raw != nil {
		score["raw"] = raw
	}
	if max != nil {
		score["max"] = max
	}
	if len(score) > 0 {
		result["score"] = score
	}
	s := map[string]interface{}{"result": result}
	if verb != "" {
		s["verb"] = map[string]interface{}{"id": "http://adlnet.gov/expapi/verbs/" + verb}
	}
	out, _ := json.Marshal(s)
	return out
}

func TestPostResultsSaved(t *testing.T) {
	m := testServer(t)
	contentID := addContent(t, "h5p-42", "Quiz One")

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-42",
		UserID:    "alice",
		Statement: statement(8, 10, true, "completed"),
	})
	mustStatus(t, w, http.StatusOK)

	reply := map[string]interface{}{}
	decodeJSON(t, w, &reply)
	if reply["status"] != "saved" {
		t.Fatalf("got status %v, want saved", reply["status"])
	}
	if reply["score"].(float64) != 0.8 {
		t.Errorf("got score %v, want 0.8", reply["score"])
	}
	if reply["verb"] != "completed" {
		t.Errorf("got verb %v, want completed", reply["verb"])
	}

	w = doJSON(t, m, "GET", "/v2/users/alice/grades", nil)
	mustStatus(t, w, http.StatusOK)
	grades := []*Grade{}
	decodeJSON(t, w, &grades)
	if len(grades) != 1 {
		t.Fatalf("got %d grades, want 1", len(grades))
	}
	g := grades[0]
	if g.ContentID != contentID || g.Score != 0.8 || !g.Completed || g.XAPIVerb != "completed" {
		t.Errorf("unexpected grade: %+v", g)
	}
	if g.RawScore == nil || *g.RawScore != 8 || g.MaxScore == nil || *g.MaxScore != 10 {
		t.Errorf("raw/max not recorded: %+v", g)
	}
}

func TestPostResultsUpsert(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-42", "Quiz One")

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-42", UserID: "alice",
		Statement: statement(3, 10, false, "attempted"),
	})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-42", UserID: "alice",
		Statement: statement(9, 10, true, "completed"),
	})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "GET", "/v2/users/alice/grades", nil)
	grades := []*Grade{}
	decodeJSON(t, w, &grades)
	if len(grades) != 1 {
		t.Fatalf("got %d grades after two deliveries, want 1", len(grades))
	}
	g := grades[0]
	if g.Score != 0.9 || !g.Completed || g.XAPIVerb != "completed" {
		t.Errorf("second delivery did not replace the first: %+v", g)
	}
	if g.UpdatedAt.Before(g.CreatedAt) {
		t.Errorf("timestamps out of order: created %v updated %v", g.CreatedAt, g.UpdatedAt)
	}
}

func TestPostResultsSeparateUsers(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-42", "Quiz One")

	for _, user := range []string{"alice", "bob"} {
		w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
			ContentID: "h5p-42", UserID: user,
			Statement: statement(5, 10, true, "completed"),
		})
		mustStatus(t, w, http.StatusOK)
	}

	w := doJSON(t, m, "GET", "/v2/contents/1/grades", nil)
	grades := []*Grade{}
	decodeJSON(t, w, &grades)
	if len(grades) != 2 {
		t.Fatalf("got %d grades, want one per user", len(grades))
	}
}

func TestPostResultsUnknownContent(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "no-such-content", UserID: "alice",
		Statement: statement(8, 10, true, "completed"),
	})
	mustStatus(t, w, http.StatusOK)

	reply := map[string]string{}
	decodeJSON(t, w, &reply)
	if reply["status"] != "ignored" || reply["reason"] != "content_not_found" {
		t.Errorf("got %v, want ignored/content_not_found", reply)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grades`).Scan(&count); err != nil {
		t.Fatalf("counting grades: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d grade rows, want none", count)
	}
}

func TestPostResultsNoScore(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-42", "Quiz One")

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-42", UserID: "alice",
		Statement: statement(nil, nil, true, "experienced"),
	})
	mustStatus(t, w, http.StatusOK)

	reply := map[string]string{}
	decodeJSON(t, w, &reply)
	if reply["status"] != "ignored" || reply["reason"] != "no_score" {
		t.Errorf("got %v, want ignored/no_score", reply)
	}
}

func TestPostResultsMissingContentID(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		UserID:    "alice",
		Statement: statement(8, 10, true, "completed"),
	})
	mustStatus(t, w, http.StatusBadRequest)
}

func TestPostResultsMalformedJSON(t *testing.T) {
	m := testServer(t)

	req := httptest.NewRequest("POST", "/v2/results", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d for malformed JSON, want 400", w.Code)
	}
}

func TestPostResultsAnonymousDefault(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-42", "Quiz One")

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-42",
		Statement: statement(1, 1, true, "completed"),
	})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "GET", "/v2/users/anonymous/grades", nil)
	grades := []*Grade{}
	decodeJSON(t, w, &grades)
	if len(grades) != 1 {
		t.Fatalf("got %d grades for anonymous, want 1", len(grades))
	}
}
