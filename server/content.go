package main

import (
	"database/sql"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/russross/meddler"
)

// GetContents handles /v2/contents requests,
// returning a list of all content references.
//
// If parameter h5pID=xxx is present, results will be filtered by exact
// H5P server ID. If parameter title=xxx is present, results will be
// filtered by case-insensitive substring match on the title.
func GetContents(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}

	if h5pID := r.FormValue("h5pID"); h5pID != "" {
		where, args = addWhereEq(where, args, "h5p_id", h5pID)
	}

	if title := r.FormValue("title"); title != "" {
		where, args = addWhereLike(where, args, "title", title)
	}

	contents := []*Content{}
	if err := meddler.QueryAll(tx, &contents, `SELECT * FROM contents`+where+` ORDER BY id`, args...); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, contents)
}

// GetContent handles /v2/contents/:content_id requests,
// returning a single content reference.
func GetContent(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	contentID, err := parseID(w, "content_id", params["content_id"])
	if err != nil {
		return
	}

	content := new(Content)
	if err := meddler.Load(tx, "contents", content, contentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	render.JSON(http.StatusOK, content)
}

// DeleteContent handles /v2/contents/:content_id requests,
// deleting a single content reference. Grades recorded for the content are
// deleted with it; activities that wrapped it survive with no content.
func DeleteContent(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	contentID, err := parseID(w, "content_id", params["content_id"])
	if err != nil {
		return
	}

	content := new(Content)
	if err := meddler.Load(tx, "contents", content, contentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	if _, err := tx.Exec(`DELETE FROM contents WHERE id = ?`, contentID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// upsertContent finds the content reference with the given H5P server ID,
// creating it if necessary. When the reference already exists its title is
// refreshed, since the editor callback reports the current title.
func upsertContent(tx *sql.Tx, h5pID, title string) (*Content, error) {
	now := time.Now()

	content := new(Content)
	err := meddler.QueryRow(tx, content, `SELECT * FROM contents WHERE h5p_id = ?`, h5pID)
	if err == sql.ErrNoRows {
		content = &Content{H5PID: h5pID, Title: title, CreatedAt: now}
	} else if err != nil {
		return nil, err
	}
	if title != "" {
		content.Title = title
	}
	content.UpdatedAt = now
	if err := meddler.Save(tx, "contents", content); err != nil {
		return nil, err
	}
	return content, nil
}

// EditorCallback handles /callback requests. The H5P editor redirects here
// after saving content, with the content ID and title in the query string.
// The content reference is upserted, an activity is created if the edit
// session started from a course page, and the editor popup closes itself.
func EditorCallback(w http.ResponseWriter, r *http.Request, tx *sql.Tx) {
	h5pID := r.FormValue("contentId")
	if h5pID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing contentId in callback")
		return
	}
	title := r.FormValue("title")

	content, err := upsertContent(tx, h5pID, title)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	// an edit session launched from a course page carries the course through
	if courseRaw := r.FormValue("course_id"); courseRaw != "" {
		courseID, err := parseID(w, "course_id", courseRaw)
		if err != nil {
			return
		}
		course := new(Course)
		if err := meddler.Load(tx, "courses", course, courseID); err != nil {
			loggedHTTPDBNotFoundError(w, err)
			return
		}
		if _, err := createActivity(tx, course.ID, content, content.Title); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><body>
<p>Saved %s</p>
<script>
if (window.opener) { window.opener.location.reload(); window.close(); }
else { window.location = %q; }
</script>
</body></html>
`, html.EscapeString(content.Title), "/")
}
