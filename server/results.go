package main

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/russross/meddler"
)

// PostResults handles /v2/results requests, the xAPI webhook the H5P server
// POSTs result statements to. It records at most one grade per
// (content, user) pair; a later delivery for the same pair replaces the
// earlier one.
//
// An unknown content ID is answered with an ignored status rather than an
// error: the webhook is best-effort, and the sender must not be penalized for
// results this instance does not track.
func PostResults(w http.ResponseWriter, tx *sql.Tx, payload ResultPayload, render render.Render) {
	if payload.ContentID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing contentId in results payload")
		return
	}
	userID := payload.UserID
	if userID == "" {
		userID = "anonymous"
	}

	content := new(Content)
	err := meddler.QueryRow(tx, content, `SELECT * FROM contents WHERE h5p_id = ?`, payload.ContentID)
	if err == sql.ErrNoRows {
		render.JSON(http.StatusOK, map[string]string{"status": "ignored", "reason": "content_not_found"})
		return
	}
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	result := Normalize(payload.Statement)
	if result.Score == nil {
		render.JSON(http.StatusOK, map[string]string{"status": "ignored", "reason": "no_score"})
		return
	}

	now := time.Now()
	grade := new(Grade)
	err = meddler.QueryRow(tx, grade, `SELECT * FROM grades WHERE content_id = ? AND user_id = ?`, content.ID, userID)
	if err == sql.ErrNoRows {
		grade = &Grade{ContentID: content.ID, UserID: userID, CreatedAt: now}
	} else if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	grade.Score = RoundScore(*result.Score)
	grade.RawScore = result.RawScore
	grade.MaxScore = result.MaxScore
	grade.Completed = result.Completed
	grade.Success = result.Success
	grade.XAPIVerb = result.Verb
	grade.XAPIStatement = payload.Statement
	grade.UpdatedAt = now

	if err := meddler.Save(tx, "grades", grade); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	log.Printf("recorded grade %.4f for user %s on content %s (%s)", grade.Score, userID, payload.ContentID, grade.XAPIVerb)

	// best-effort grade passback when an LTI launch matches this result;
	// runs outside the transaction and never affects the webhook response
	go postScoreForLaunch(payload.ContentID, userID, grade.Score)

	render.JSON(http.StatusOK, map[string]interface{}{
		"status":    "saved",
		"contentID": content.ID,
		"score":     grade.Score,
		"verb":      grade.XAPIVerb,
	})
}

// GetContentGrades handles /v2/contents/:content_id/grades requests,
// returning all grades recorded for the given content reference.
func GetContentGrades(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	contentID, err := parseID(w, "content_id", params["content_id"])
	if err != nil {
		return
	}

	grades := []*Grade{}
	if err := meddler.QueryAll(tx, &grades, `SELECT * FROM grades WHERE content_id = ? ORDER BY updated_at DESC`, contentID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, grades)
}

// GetUserGrades handles /v2/users/:user_id/grades requests,
// returning all grades recorded for the given user across all content.
func GetUserGrades(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	userID := params["user_id"]
	if userID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing user_id in URL")
		return
	}

	grades := []*Grade{}
	if err := meddler.QueryAll(tx, &grades, `SELECT * FROM grades WHERE user_id = ? ORDER BY updated_at DESC`, userID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, grades)
}
