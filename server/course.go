package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/russross/meddler"
)

// ActivityRequest is the payload for creating an activity inside a course.
// H5PID names the content on the H5P server; a content reference is upserted
// as a side effect so a webhook delivery can find it immediately.
type ActivityRequest struct {
	Title string `json:"title"`
	H5PID string `json:"h5pID"`
}

// GetCourses handles /v2/courses requests,
// returning a list of all courses.
//
// If parameter title=xxx is present, results will be filtered by
// case-insensitive substring match on the title.
func GetCourses(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	where := ""
	args := []interface{}{}

	if title := r.FormValue("title"); title != "" {
		where, args = addWhereLike(where, args, "title", title)
	}

	courses := []*Course{}
	if err := meddler.QueryAll(tx, &courses, `SELECT * FROM courses`+where+` ORDER BY id`, args...); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, courses)
}

// PostCourse handles /v2/courses requests, creating a new course.
func PostCourse(w http.ResponseWriter, tx *sql.Tx, course Course, render render.Render) {
	if course.Title == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing title in course")
		return
	}

	now := time.Now()
	course.ID = 0
	course.CreatedAt = now
	course.UpdatedAt = now
	if err := meddler.Insert(tx, "courses", &course); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, &course)
}

// GetCourse handles /v2/courses/:course_id requests,
// returning a single course.
func GetCourse(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, courseID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	render.JSON(http.StatusOK, course)
}

// DeleteCourse handles /v2/courses/:course_id requests,
// deleting a single course and its activities. Content references used by
// the activities are left in place; other courses may share them.
func DeleteCourse(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, courseID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	if _, err := tx.Exec(`DELETE FROM courses WHERE id = ?`, courseID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// GetCourseActivities handles /v2/courses/:course_id/activities requests,
// returning the activities of a course in sequence order.
func GetCourseActivities(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
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
	render.JSON(http.StatusOK, activities)
}

// PostCourseActivity handles /v2/courses/:course_id/activities requests,
// creating a new activity in the course. The same H5P content may be added
// to a course more than once; each activity is an independent row.
func PostCourseActivity(w http.ResponseWriter, tx *sql.Tx, params martini.Params, req ActivityRequest, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}
	if req.H5PID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing h5pID in activity")
		return
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, courseID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	content, err := upsertContent(tx, req.H5PID, req.Title)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	title := req.Title
	if title == "" {
		title = content.Title
	}
	activity, err := createActivity(tx, course.ID, content, title)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, activity)
}

// createActivity appends an activity to the end of a course.
func createActivity(tx *sql.Tx, courseID int64, content *Content, title string) (*Activity, error) {
	var next int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM activities WHERE course_id = ?`, courseID).Scan(&next); err != nil {
		return nil, err
	}

	now := time.Now()
	activity := &Activity{
		CourseID:  courseID,
		ContentID: content.ID,
		Title:     title,
		Sequence:  next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := meddler.Insert(tx, "activities", activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// GetActivity handles /v2/activities/:activity_id requests,
// returning a single activity.
func GetActivity(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	activityID, err := parseID(w, "activity_id", params["activity_id"])
	if err != nil {
		return
	}

	activity := new(Activity)
	if err := meddler.Load(tx, "activities", activity, activityID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	render.JSON(http.StatusOK, activity)
}

// DeleteActivity handles /v2/activities/:activity_id requests, deleting a
// single activity. If no other activity wraps the same content reference,
// the content reference and its grades are deleted as well.
func DeleteActivity(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	activityID, err := parseID(w, "activity_id", params["activity_id"])
	if err != nil {
		return
	}

	activity := new(Activity)
	if err := meddler.Load(tx, "activities", activity, activityID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	if _, err := tx.Exec(`DELETE FROM activities WHERE id = ?`, activityID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	if activity.ContentID > 0 {
		var others int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM activities WHERE content_id = ?`, activity.ContentID).Scan(&others); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
		if others == 0 {
			if _, err := tx.Exec(`DELETE FROM contents WHERE id = ?`, activity.ContentID); err != nil {
				loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
				return
			}
		}
	}
}

// GetActivityGrades handles /v2/activities/:activity_id/grades requests,
// returning the grades recorded for the content the activity wraps.
func GetActivityGrades(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	activityID, err := parseID(w, "activity_id", params["activity_id"])
	if err != nil {
		return
	}

	activity := new(Activity)
	if err := meddler.Load(tx, "activities", activity, activityID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	grades := []*Grade{}
	if activity.ContentID > 0 {
		if err := meddler.QueryAll(tx, &grades, `SELECT * FROM grades WHERE content_id = ? ORDER BY updated_at DESC`, activity.ContentID); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}
	render.JSON(http.StatusOK, grades)
}
