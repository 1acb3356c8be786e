package types

import (
	"encoding/json"
	"time"
)

const CookieName = "h5pbridge"

// Content is a reference to a content item hosted on the remote H5P server.
// The bridge never stores the content itself; H5PID is the only key that
// correlates incoming xAPI results with local records, and lookups on it are
// always exact string matches.
type Content struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	H5PID     string    `json:"h5pID" meddler:"h5p_id"`
	Title     string    `json:"title" meddler:"title,zeroisnull"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Course is a simple container of activities.
type Course struct {
	ID          int64     `json:"id" meddler:"id,pk"`
	Title       string    `json:"title" meddler:"title"`
	Description string    `json:"description" meddler:"description,zeroisnull"`
	CreatedAt   time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt   time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Activity wraps a content reference inside a course. ContentID is nullable
// so the activity row survives deletion of its content reference.
type Activity struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CourseID  int64     `json:"courseID" meddler:"course_id"`
	ContentID int64     `json:"contentID" meddler:"content_id,zeroisnull"`
	Title     string    `json:"title" meddler:"title"`
	Sequence  int64     `json:"sequence" meddler:"sequence"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Grade is the recorded result for one user on one content item. There is at
// most one row per (content, user) pair; a later webhook delivery for the same
// pair overwrites the earlier one, so the only history kept is the raw
// statement of the most recent delivery.
type Grade struct {
	ID            int64           `json:"id" meddler:"id,pk"`
	ContentID     int64           `json:"contentID" meddler:"content_id"`
	UserID        string          `json:"userID" meddler:"user_id"`
	Score         float64         `json:"score" meddler:"score"`
	RawScore      *float64        `json:"rawScore" meddler:"raw_score"`
	MaxScore      *float64        `json:"maxScore" meddler:"max_score"`
	Completed     bool            `json:"completed" meddler:"completed"`
	Success       *bool           `json:"success" meddler:"success"`
	XAPIVerb      string          `json:"xapiVerb" meddler:"xapi_verb,zeroisnull"`
	XAPIStatement json.RawMessage `json:"xapiStatement" meddler:"xapi_statement,json"`
	CreatedAt     time.Time       `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt     time.Time       `json:"updatedAt" meddler:"updated_at,localtime"`
}

// ScorePercent returns the normalized score as a 0-100 percentage.
func (g *Grade) ScorePercent() float64 {
	return g.Score * 100
}

// Launch records one LTI resource-link launch. The lineitem and scopes from
// the AGS claim are kept so a later webhook delivery for the same
// (content, user) pair can post the score back to the platform.
type Launch struct {
	ID             int64     `json:"id" meddler:"id,pk"`
	LaunchID       string    `json:"launchID" meddler:"launch_id"`
	Issuer         string    `json:"issuer" meddler:"issuer"`
	ClientID       string    `json:"clientID" meddler:"client_id"`
	UserID         string    `json:"userID" meddler:"user_id"`
	H5PID          string    `json:"h5pID" meddler:"h5p_id,zeroisnull"`
	ResourceLinkID string    `json:"resourceLinkID" meddler:"resource_link_id,zeroisnull"`
	Lineitem       string    `json:"-" meddler:"lineitem,zeroisnull"`
	Scopes         []string  `json:"-" meddler:"scopes,json"`
	ScoreSentAt    time.Time `json:"scoreSentAt" meddler:"score_sent_at,localtimez"`
	CreatedAt      time.Time `json:"createdAt" meddler:"created_at,localtime"`
}
