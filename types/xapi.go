package types

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// ResultPayload is the body of one webhook delivery from the H5P server.
// Statement is kept raw: it is stored verbatim for audit, and the few fields
// that matter for grading are picked out with gjson, since senders include
// plenty of statement fields beyond the ones graded here.
type ResultPayload struct {
	ContentID string          `json:"contentId"`
	UserID    string          `json:"userId"`
	Statement json.RawMessage `json:"statement"`
}

// Normalized is the graded summary of one xAPI statement. Score is nil when
// the statement carried no score at all, in which case nothing is recorded.
type Normalized struct {
	Score     *float64
	RawScore  *float64
	MaxScore  *float64
	Completed bool
	Success   *bool
	Verb      string
}

// Normalize extracts the result fields from a raw xAPI statement.
//
// A raw score with a missing or zero max is taken to be already normalized to
// 0..1; that is an H5P convention, not something the statement declares, and
// it is not validated. Only an upper clamp is applied, so a negative raw
// score flows through to a negative normalized score.
func Normalize(statement []byte) Normalized {
	n := Normalized{}

	raw := gjson.GetBytes(statement, "result.score.raw")
	max := gjson.GetBytes(statement, "result.score.max")
	if raw.Exists() {
		r := raw.Float()
		n.RawScore = &r
		score := r
		if max.Exists() && max.Float() != 0 {
			m := max.Float()
			n.MaxScore = &m
			score = r / m
		}
		if score > 1 {
			score = 1
		}
		n.Score = &score
	}

	n.Completed = gjson.GetBytes(statement, "result.completion").Bool()
	if success := gjson.GetBytes(statement, "result.success"); success.Exists() {
		b := success.Bool()
		n.Success = &b
	}
	n.Verb = VerbName(gjson.GetBytes(statement, "verb.id").String())

	return n
}

// VerbName reduces a verb URI to its final path segment:
// "http://adlnet.gov/expapi/verbs/completed" becomes "completed". A verb with
// no slash is returned as-is, and an absent verb yields the empty string.
func VerbName(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// RoundScore rounds a normalized score to the 4 decimal places stored in the
// grades table.
func RoundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}
