package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/openlmsdev/h5pbridge/types"
)

func TestEditorCallbackCreatesContent(t *testing.T) {
	m := testServer(t)

	req := httptest.NewRequest("GET", "/callback?contentId=h5p-7&title=Memory+Game", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	mustStatus(t, w, http.StatusOK)

	resp := doJSON(t, m, "GET", "/v2/contents?h5pID=h5p-7", nil)
	contents := []*Content{}
	decodeJSON(t, resp, &contents)
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	if contents[0].Title != "Memory Game" {
		t.Errorf("got title %q, want Memory Game", contents[0].Title)
	}
}

func TestEditorCallbackUpsertsByH5PID(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-7", "Old Title")

	req := httptest.NewRequest("GET", "/callback?contentId=h5p-7&title=New+Title", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	mustStatus(t, w, http.StatusOK)

	resp := doJSON(t, m, "GET", "/v2/contents", nil)
	contents := []*Content{}
	decodeJSON(t, resp, &contents)
	if len(contents) != 1 {
		t.Fatalf("got %d contents after re-save, want 1", len(contents))
	}
	if contents[0].Title != "New Title" {
		t.Errorf("got title %q, want New Title", contents[0].Title)
	}
}

func TestEditorCallbackMissingContentID(t *testing.T) {
	m := testServer(t)

	req := httptest.NewRequest("GET", "/callback?title=No+ID", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
}

func TestGetContentsTitleFilter(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-1", "Memory Game")
	addContent(t, "h5p-2", "Arithmetic Quiz")

	w := doJSON(t, m, "GET", "/v2/contents?title=quiz", nil)
	contents := []*Content{}
	decodeJSON(t, w, &contents)
	if len(contents) != 1 || contents[0].H5PID != "h5p-2" {
		t.Errorf("title filter returned %+v", contents)
	}
}

func TestDeleteContentRemovesGrades(t *testing.T) {
	m := testServer(t)
	addContent(t, "h5p-1", "Quiz")

	w := doJSON(t, m, "POST", "/v2/results", &ResultPayload{
		ContentID: "h5p-1", UserID: "alice",
		Statement: statement(1, 1, true, "completed"),
	})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "DELETE", "/v2/contents/1", nil)
	mustStatus(t, w, http.StatusOK)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM grades`).Scan(&count); err != nil {
		t.Fatalf("counting grades: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d grade rows after content delete, want none", count)
	}

	w = doJSON(t, m, "GET", "/v2/contents/1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d fetching deleted content, want 404", w.Code)
	}
}

func TestCourseActivityLifecycle(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/courses", &Course{Title: "Biology 101", Description: "Cells and *stuff*."})
	mustStatus(t, w, http.StatusOK)
	course := new(Course)
	decodeJSON(t, w, course)
	if course.ID == 0 {
		t.Fatalf("course was not assigned an ID")
	}

	// the same content may appear in a course more than once
	for i := 0; i < 2; i++ {
		w = doJSON(t, m, "POST", "/v2/courses/1/activities", &ActivityRequest{Title: "Cell Quiz", H5PID: "h5p-9"})
		mustStatus(t, w, http.StatusOK)
	}

	w = doJSON(t, m, "GET", "/v2/courses/1/activities", nil)
	activities := []*Activity{}
	decodeJSON(t, w, &activities)
	if len(activities) != 2 {
		t.Fatalf("got %d activities, want 2", len(activities))
	}
	if activities[0].Sequence != 1 || activities[1].Sequence != 2 {
		t.Errorf("activities not sequenced: %+v", activities)
	}
	if activities[0].ContentID != activities[1].ContentID {
		t.Errorf("duplicate activities should share one content reference")
	}

	// only one content reference was upserted for both
	contents := []*Content{}
	w = doJSON(t, m, "GET", "/v2/contents", nil)
	decodeJSON(t, w, &contents)
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	// deleting the first activity keeps the content (still referenced)
	w = doJSON(t, m, "DELETE", "/v2/activities/1", nil)
	mustStatus(t, w, http.StatusOK)
	w = doJSON(t, m, "GET", "/v2/contents", nil)
	decodeJSON(t, w, &contents)
	if len(contents) != 1 {
		t.Fatalf("content deleted while still referenced")
	}

	// deleting the last activity removes the orphaned content
	w = doJSON(t, m, "DELETE", "/v2/activities/2", nil)
	mustStatus(t, w, http.StatusOK)
	w = doJSON(t, m, "GET", "/v2/contents", nil)
	decodeJSON(t, w, &contents)
	if len(contents) != 0 {
		t.Fatalf("orphaned content not removed: %+v", contents)
	}
}

func TestPostCourseActivityValidation(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/courses", &Course{Title: "Biology 101"})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "POST", "/v2/courses/1/activities", &ActivityRequest{Title: "No Content"})
	mustStatus(t, w, http.StatusBadRequest)

	w = doJSON(t, m, "POST", "/v2/courses/99/activities", &ActivityRequest{Title: "Quiz", H5PID: "h5p-1"})
	mustStatus(t, w, http.StatusNotFound)
}

func TestDeleteCourseCascades(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/courses", &Course{Title: "Biology 101"})
	mustStatus(t, w, http.StatusOK)
	w = doJSON(t, m, "POST", "/v2/courses/1/activities", &ActivityRequest{Title: "Quiz", H5PID: "h5p-1"})
	mustStatus(t, w, http.StatusOK)

	w = doJSON(t, m, "DELETE", "/v2/courses/1", nil)
	mustStatus(t, w, http.StatusOK)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		t.Fatalf("counting activities: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d activities after course delete, want none", count)
	}
}

func TestPostCourseMissingTitle(t *testing.T) {
	m := testServer(t)

	w := doJSON(t, m, "POST", "/v2/courses", &Course{})
	mustStatus(t, w, http.StatusBadRequest)
}
