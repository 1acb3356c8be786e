package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/russross/meddler"
)

// RemoteContent is one entry in the H5P server's content listing.
// The listing is advisory only; nothing local depends on it.
type RemoteContent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FetchRemoteContents asks the H5P server for its content listing.
// Failures degrade to a nil list: the H5P server being down must never
// break the bridge's own pages.
func FetchRemoteContents() []*RemoteContent {
	client := &http.Client{Timeout: time.Duration(Config.RemoteTimeout) * time.Second}
	resp, err := client.Get(Config.H5PServerURL + "/api/content")
	if err != nil {
		log.Printf("fetching remote content list: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("fetching remote content list: status %d", resp.StatusCode)
		return nil
	}
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Printf("reading remote content list: %v", err)
		return nil
	}

	// the listing is either a bare array or wrapped in a content field
	list := []*RemoteContent{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	wrapped := struct {
		Content []*RemoteContent `json:"content"`
	}{}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		log.Printf("parsing remote content list: %v", err)
		return nil
	}
	return wrapped.Content
}

// GetRemoteContents handles /v2/remote/contents requests, proxying the H5P
// server's content listing. An unreachable H5P server yields an empty list.
func GetRemoteContents(w http.ResponseWriter, render render.Render) {
	list := FetchRemoteContents()
	if list == nil {
		list = []*RemoteContent{}
	}
	render.JSON(http.StatusOK, list)
}

// webhookURL is where the H5P server should POST xAPI results.
func webhookURL() string {
	return Config.PublicURL + "/v2/results"
}

// PlayerURL forms the H5P server address for playing a content item, with
// the results webhook attached. The user ID rides along so the player can
// report it back in the webhook payload.
func PlayerURL(h5pID, userID string) string {
	s := fmt.Sprintf("%s/play/%s?webhookUrl=%s",
		Config.H5PServerURL, url.PathEscape(h5pID), url.QueryEscape(webhookURL()))
	if userID != "" {
		s += "&userId=" + url.QueryEscape(userID)
	}
	return s
}

// EditorURL forms the H5P server address for editing a content item.
func EditorURL(h5pID, returnURL string) string {
	return fmt.Sprintf("%s/edit/%s?returnUrl=%s",
		Config.H5PServerURL, url.PathEscape(h5pID), url.QueryEscape(returnURL))
}

// NewContentURL forms the H5P server address for creating new content.
func NewContentURL(returnURL string) string {
	return fmt.Sprintf("%s/new?returnUrl=%s",
		Config.H5PServerURL, url.QueryEscape(returnURL))
}

// callbackURL forms the address the H5P editor returns to after saving.
// A course ID, when present, is carried through so the callback can create
// an activity in that course.
func callbackURL(courseID string) string {
	s := Config.PublicURL + "/callback"
	if courseID != "" {
		s += "?course_id=" + url.QueryEscape(courseID)
	}
	return s
}

// RedirectNewContent handles /new requests, bouncing the browser to the H5P
// server's content editor.
func RedirectNewContent(w http.ResponseWriter, r *http.Request) {
	target := NewContentURL(callbackURL(r.FormValue("course_id")))
	http.Redirect(w, r, target, http.StatusFound)
}

// RedirectEditContent handles /edit/:content_id requests, bouncing the
// browser to the H5P server's editor for an existing content reference.
func RedirectEditContent(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params) {
	contentID, err := parseID(w, "content_id", params["content_id"])
	if err != nil {
		return
	}

	content := new(Content)
	if err := meddler.Load(tx, "contents", content, contentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	target := EditorURL(content.H5PID, callbackURL(r.FormValue("course_id")))
	http.Redirect(w, r, target, http.StatusFound)
}
