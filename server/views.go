package main

import (
	"database/sql"
	"html/template"
	"net/http"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/russross/blackfriday/v2"
	"github.com/russross/meddler"
)

// LibraryPage handles / requests, the landing page listing all courses and
// all local content references, with the remote listing alongside so new
// content can be added with one click.
func LibraryPage(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	courses := []*Course{}
	if err := meddler.QueryAll(tx, &courses, `SELECT * FROM courses ORDER BY title`); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	contents := []*Content{}
	if err := meddler.QueryAll(tx, &contents, `SELECT * FROM contents ORDER BY title`); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.HTML(http.StatusOK, "library", map[string]interface{}{
		"Tool":     Config.ToolName,
		"Courses":  courses,
		"Contents": contents,
		"Remote":   FetchRemoteContents(),
	})
}

// CoursePage handles /courses/:course_id requests, listing the activities of
// one course. The course description is markdown.
func CoursePage(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, courseID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	activities := []*Activity{}
	if err := meddler.QueryAll(tx, &activities, `SELECT * FROM activities WHERE course_id = ? ORDER BY sequence, id`, courseID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.HTML(http.StatusOK, "course", map[string]interface{}{
		"Tool":        Config.ToolName,
		"Course":      course,
		"Description": template.HTML(blackfriday.Run([]byte(course.Description))),
		"Activities":  activities,
	})
}

// ActivityPage handles /activities/:activity_id requests, showing one
// activity with the grades recorded for its content.
func ActivityPage(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	activityID, err := parseID(w, "activity_id", params["activity_id"])
	if err != nil {
		return
	}

	activity := new(Activity)
	if err := meddler.Load(tx, "activities", activity, activityID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	var content *Content
	grades := []*Grade{}
	if activity.ContentID > 0 {
		content = new(Content)
		if err := meddler.Load(tx, "contents", content, activity.ContentID); err != nil {
			loggedHTTPDBNotFoundError(w, err)
			return
		}
		if err := meddler.QueryAll(tx, &grades, `SELECT * FROM grades WHERE content_id = ? ORDER BY updated_at DESC`, activity.ContentID); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}

	render.HTML(http.StatusOK, "activity", map[string]interface{}{
		"Tool":     Config.ToolName,
		"Activity": activity,
		"Content":  content,
		"Grades":   grades,
	})
}

// PlayerPage handles /play/:content_id requests, embedding the remote player
// for one content reference.
func PlayerPage(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	contentID, err := parseID(w, "content_id", params["content_id"])
	if err != nil {
		return
	}

	content := new(Content)
	if err := meddler.Load(tx, "contents", content, contentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	userID := currentUserID(w, r)
	render.HTML(http.StatusOK, "player", map[string]interface{}{
		"Tool":      Config.ToolName,
		"Content":   content,
		"PlayerURL": PlayerURL(content.H5PID, userID),
	})
}
