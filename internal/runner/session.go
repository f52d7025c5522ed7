package runner

import (
	"regexp"

	"github.com/google/uuid"
)

// Matches "session id: <token>", "session_id=<token>", `"session_id": "<token>"`.
// The token is validated separately.
var sessionIDPattern = regexp.MustCompile(
	`(?i)session[ _-]?id["']?\s*[:=]?\s*["']?([0-9a-z{}:-]+)`)

// ExtractSessionToken returns the last session id in text that parses as
// a UUID, in canonical form, or "". Later tokens supersede earlier ones.
func ExtractSessionToken(text string) string {
	var last string
	for _, m := range sessionIDPattern.FindAllStringSubmatch(text, -1) {
		id, err := uuid.Parse(m[1])
		if err != nil {
			continue
		}
		last = id.String()
	}
	return last
}
