package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	. "github.com/openlmsdev/h5pbridge/types"
)

const cookieExpiration = 90 * 24 * time.Hour

// currentUserID identifies the browser viewing the site. Visitors are not
// required to log in, so each browser gets a random anonymous ID in a signed
// cookie; an LTI launch replaces it with the platform's user ID.
func currentUserID(w http.ResponseWriter, r *http.Request) string {
	s := securecookie.New([]byte(Config.SessionSecret), nil)

	if cookie, err := r.Cookie(CookieName); err == nil {
		userID := ""
		if err := s.Decode(CookieName, cookie.Value, &userID); err == nil && userID != "" {
			return userID
		}
	}

	userID := "anon-" + strings.Replace(uuid.NewString(), "-", "", -1)[:8]
	setUserCookie(w, userID)
	return userID
}

// setUserCookie writes the signed user ID cookie.
func setUserCookie(w http.ResponseWriter, userID string) {
	s := securecookie.New([]byte(Config.SessionSecret), nil)
	encoded, err := s.Encode(CookieName, userID)
	if err != nil {
		log.Printf("error encoding session cookie: %v", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    CookieName,
		Value:   encoded,
		Path:    "/",
		Expires: time.Now().Add(cookieExpiration),
	})
}
