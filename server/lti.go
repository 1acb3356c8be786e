package main

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io/ioutil"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-martini/martini"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/martini-contrib/render"
	. "github.com/openlmsdev/h5pbridge/types"
	"github.com/pkg/errors"
	"github.com/russross/meddler"
	gcfg "gopkg.in/gcfg.v1"
)

const (
	claimDeploymentID = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimMessageType  = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion      = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimResourceLink = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	claimCustom       = "https://purl.imsglobal.org/spec/lti/claim/custom"
	claimAGSEndpoint  = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"

	scopeScore = "https://purl.imsglobal.org/spec/lti-ags/scope/score"

	stateCookie = "h5pbridge_lti_state"
)

// PlatformRegistration holds the static registration data for one LTI
// platform, loaded from the gcfg platform file. The platform's public key
// is read from KeyFile at startup.
type PlatformRegistration struct {
	ClientID     string
	AuthLoginURL string
	AuthTokenURL string
	KeyFile      string
	DeploymentID string

	publicKey *rsa.PublicKey
}

var ltiPlatforms = map[string]*PlatformRegistration{}
var toolKey *rsa.PrivateKey
var toolKeyID string

// loadPlatforms reads the platform registration file. Each section looks
// like:
//
//	[platform "https://lms.example.edu"]
//	client-id = abc123
//	auth-login-url = https://lms.example.edu/lti/auth
//	auth-token-url = https://lms.example.edu/lti/token
//	key-file = /etc/h5pbridge/lms-public.pem
//	deployment-id = 1
func loadPlatforms(path string) error {
	var file struct {
		Platform map[string]*PlatformRegistration
	}
	if err := gcfg.ReadFileInto(&file, path); err != nil {
		return errors.Wrapf(err, "parsing platform file %s", path)
	}

	for issuer, reg := range file.Platform {
		if reg.ClientID == "" || reg.AuthLoginURL == "" || reg.AuthTokenURL == "" || reg.KeyFile == "" {
			return errors.Errorf("platform %s is missing a required field", issuer)
		}
		raw, err := ioutil.ReadFile(reg.KeyFile)
		if err != nil {
			return errors.Wrapf(err, "reading key for platform %s", issuer)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
		if err != nil {
			return errors.Wrapf(err, "parsing key for platform %s", issuer)
		}
		reg.publicKey = key
		ltiPlatforms[issuer] = reg
	}
	return nil
}

// loadToolKey reads the tool's private signing key and derives a stable key
// ID from the public modulus.
func loadToolKey(path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading tool key %s", path)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return errors.Wrapf(err, "parsing tool key %s", path)
	}
	toolKey = key
	sum := sha256.Sum256(key.PublicKey.N.Bytes())
	toolKeyID = base64.RawURLEncoding.EncodeToString(sum[:8])
	return nil
}

// GetLtiConfig handles /lti/config.json requests, returning the tool
// configuration a platform administrator pastes into their LMS.
func GetLtiConfig(w http.ResponseWriter, render render.Render) {
	render.JSON(http.StatusOK, map[string]interface{}{
		"title":               Config.ToolName,
		"description":         Config.ToolDescription,
		"oidc_initiation_url": Config.PublicURL + "/lti/login",
		"target_link_uri":     Config.PublicURL + "/lti/launch",
		"public_jwk_url":      Config.PublicURL + "/.well-known/jwks.json",
		"scopes":              []string{scopeScore},
		"custom_fields": map[string]string{
			"h5p_content_id": "$ResourceLink.id",
		},
	})
}

// GetJWKS handles /.well-known/jwks.json requests, publishing the tool's
// public key so platforms can verify our service assertions.
func GetJWKS(w http.ResponseWriter, render render.Render) {
	keys := []map[string]string{}
	if toolKey != nil {
		pub := &toolKey.PublicKey
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": toolKeyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	render.JSON(http.StatusOK, map[string]interface{}{"keys": keys})
}

// LtiLogin handles /lti/login requests, the OIDC third-party login
// initiation. State and nonce are minted here, stashed in a signed cookie,
// and checked again at launch.
func LtiLogin(w http.ResponseWriter, r *http.Request) {
	issuer := r.FormValue("iss")
	loginHint := r.FormValue("login_hint")
	targetLinkURI := r.FormValue("target_link_uri")
	ltiMessageHint := r.FormValue("lti_message_hint")
	if issuer == "" || loginHint == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing iss or login_hint in login request")
		return
	}
	platform, present := ltiPlatforms[issuer]
	if !present {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unknown platform: %s", issuer)
		return
	}
	if targetLinkURI == "" {
		targetLinkURI = Config.PublicURL + "/lti/launch"
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	s := securecookie.New([]byte(Config.SessionSecret), nil)
	encoded, err := s.Encode(stateCookie, map[string]string{"state": state, "nonce": nonce})
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error encoding state cookie: %v", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    stateCookie,
		Value:   encoded,
		Path:    "/lti",
		Expires: time.Now().Add(10 * time.Minute),
	})

	v := url.Values{}
	v.Set("scope", "openid")
	v.Set("response_type", "id_token")
	v.Set("response_mode", "form_post")
	v.Set("prompt", "none")
	v.Set("client_id", platform.ClientID)
	v.Set("redirect_uri", targetLinkURI)
	v.Set("login_hint", loginHint)
	v.Set("state", state)
	v.Set("nonce", nonce)
	if ltiMessageHint != "" {
		v.Set("lti_message_hint", ltiMessageHint)
	}
	http.Redirect(w, r, platform.AuthLoginURL+"?"+v.Encode(), http.StatusFound)
}

// PostLtiLaunch handles /lti/launch requests: the platform POSTs a signed
// id_token here after the OIDC handshake. The token is verified against the
// registered platform key, the launch is recorded for later grade passback,
// and the browser lands on the player (or a picker when the link has no
// content assigned yet).
func PostLtiLaunch(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render) {
	rawToken := r.FormValue("id_token")
	state := r.FormValue("state")
	if rawToken == "" || state == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing id_token or state in launch")
		return
	}

	// the state must match what we minted at login
	s := securecookie.New([]byte(Config.SessionSecret), nil)
	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing state cookie in launch")
		return
	}
	saved := map[string]string{}
	if err := s.Decode(stateCookie, cookie.Value, &saved); err != nil || saved["state"] != state {
		loggedHTTPErrorf(w, http.StatusBadRequest, "state mismatch in launch")
		return
	}

	claims := jwt.MapClaims{}
	var platform *PlatformRegistration
	_, err = jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		issuer, err := token.Claims.GetIssuer()
		if err != nil {
			return nil, errors.Wrap(err, "id_token has no issuer")
		}
		reg, present := ltiPlatforms[issuer]
		if !present {
			return nil, errors.Errorf("unknown platform: %s", issuer)
		}
		platform = reg
		return reg.publicKey, nil
	})
	if err != nil {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "invalid id_token: %v", err)
		return
	}

	issuer, _ := claims.GetIssuer()
	audience, _ := claims.GetAudience()
	if !containsString(audience, platform.ClientID) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "id_token audience does not match client ID")
		return
	}
	if nonce, _ := claims["nonce"].(string); nonce != saved["nonce"] {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "nonce mismatch in launch")
		return
	}
	if platform.DeploymentID != "" {
		if dep, _ := claims[claimDeploymentID].(string); dep != platform.DeploymentID {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "deployment ID mismatch in launch")
			return
		}
	}
	if msgType, _ := claims[claimMessageType].(string); msgType != "LtiResourceLinkRequest" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unsupported LTI message type: %v", claims[claimMessageType])
		return
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "id_token has no subject")
		return
	}
	userID := issuer + "#" + sub

	launch := &Launch{
		LaunchID:  uuid.NewString(),
		Issuer:    issuer,
		ClientID:  platform.ClientID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if link, ok := claims[claimResourceLink].(map[string]interface{}); ok {
		launch.ResourceLinkID, _ = link["id"].(string)
	}
	if custom, ok := claims[claimCustom].(map[string]interface{}); ok {
		launch.H5PID, _ = custom["h5p_content_id"].(string)
	}
	if ags, ok := claims[claimAGSEndpoint].(map[string]interface{}); ok {
		launch.Lineitem, _ = ags["lineitem"].(string)
		if scopes, ok := ags["scope"].([]interface{}); ok {
			for _, elt := range scopes {
				if scope, ok := elt.(string); ok {
					launch.Scopes = append(launch.Scopes, scope)
				}
			}
		}
	}
	if err := meddler.Insert(tx, "lti_launches", launch); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	// the LTI identity replaces any anonymous session
	setUserCookie(w, userID)

	if launch.H5PID == "" {
		// no content assigned to this link yet: let the launcher pick
		render.HTML(http.StatusOK, "picker", map[string]interface{}{
			"Tool":     Config.ToolName,
			"Contents": FetchRemoteContents(),
		})
		return
	}
	http.Redirect(w, r, "/lti/play/"+url.PathEscape(launch.H5PID), http.StatusFound)
}

// LtiPlay handles /lti/play/:h5p_id requests, upserting the content
// reference and rendering the player for an LTI-launched user.
func LtiPlay(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, render render.Render) {
	h5pID := params["h5p_id"]
	if h5pID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing h5p_id in URL")
		return
	}

	content, err := upsertContent(tx, h5pID, "")
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	userID := currentUserID(w, r)
	render.HTML(http.StatusOK, "player", map[string]interface{}{
		"Tool":      Config.ToolName,
		"Content":   content,
		"PlayerURL": PlayerURL(content.H5PID, userID),
	})
}

// postScoreForLaunch pushes a normalized score back to the platform that
// launched this content for this user. It is best effort: a single attempt,
// skipped entirely when the LTI role is not configured or no matching
// launch carries a grade endpoint.
func postScoreForLaunch(h5pID, userID string, score float64) {
	if toolKey == nil || len(ltiPlatforms) == 0 {
		return
	}

	dbMutex.Lock()
	launch := new(Launch)
	err := meddler.QueryRow(db, launch, `SELECT * FROM lti_launches `+
		`WHERE h5p_id = ? AND user_id = ? AND lineitem <> '' ORDER BY created_at DESC LIMIT 1`, h5pID, userID)
	dbMutex.Unlock()
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		log.Printf("score passback: db error: %v", err)
		return
	}
	if !containsString(launch.Scopes, scopeScore) {
		log.Printf("score passback: launch %s has no score scope", launch.LaunchID)
		return
	}
	platform, present := ltiPlatforms[launch.Issuer]
	if !present {
		log.Printf("score passback: platform %s is no longer registered", launch.Issuer)
		return
	}

	token, err := agsAccessToken(platform, scopeScore)
	if err != nil {
		log.Printf("score passback: token request failed: %v", err)
		return
	}

	// the platform's user ID is the bare subject
	sub := launch.UserID
	if i := strings.Index(sub, "#"); i >= 0 {
		sub = sub[i+1:]
	}
	payload, err := json.Marshal(map[string]interface{}{
		"userId":           sub,
		"scoreGiven":       score,
		"scoreMaximum":     1.0,
		"activityProgress": "Completed",
		"gradingProgress":  "FullyGraded",
		"timestamp":        time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("score passback: encoding score: %v", err)
		return
	}

	scoreURL := launch.Lineitem
	if u, err := url.Parse(scoreURL); err == nil {
		u.Path = strings.TrimRight(u.Path, "/") + "/scores"
		scoreURL = u.String()
	}
	req, err := http.NewRequest("POST", scoreURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("score passback: building request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/vnd.ims.lis.v1.score+json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: time.Duration(Config.RemoteTimeout) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("score passback: posting score: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		log.Printf("score passback: platform returned status %d", resp.StatusCode)
		return
	}

	dbMutex.Lock()
	_, err = db.Exec(`UPDATE lti_launches SET score_sent_at = ? WHERE id = ?`, time.Now(), launch.ID)
	dbMutex.Unlock()
	if err != nil {
		log.Printf("score passback: recording send time: %v", err)
		return
	}
	log.Printf("posted score %.4f for user %s to %s", score, userID, launch.Issuer)
}

// agsAccessToken performs the client_credentials grant with a signed JWT
// assertion, returning a bearer token for the requested scope.
func agsAccessToken(platform *PlatformRegistration, scope string) (string, error) {
	// per the IMS security framework, both iss and sub are the tool's client ID
	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": platform.ClientID,
		"sub": platform.ClientID,
		"aud": platform.AuthTokenURL,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	})
	assertion.Header["kid"] = toolKeyID
	signed, err := assertion.SignedString(toolKey)
	if err != nil {
		return "", errors.Wrap(err, "signing assertion")
	}

	v := url.Values{}
	v.Set("grant_type", "client_credentials")
	v.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	v.Set("client_assertion", signed)
	v.Set("scope", scope)

	client := &http.Client{Timeout: time.Duration(Config.RemoteTimeout) * time.Second}
	resp, err := client.PostForm(platform.AuthTokenURL, v)
	if err != nil {
		return "", errors.Wrap(err, "requesting token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	reply := struct {
		AccessToken string `json:"access_token"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", errors.Wrap(err, "parsing token reply")
	}
	if reply.AccessToken == "" {
		return "", errors.New("token reply has no access_token")
	}
	return reply.AccessToken, nil
}

func containsString(list []string, elt string) bool {
	for _, s := range list {
		if s == elt {
			return true
		}
	}
	return false
}
