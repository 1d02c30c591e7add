// Package scoring rates incoming activities for importance. The score is a
// pure function of the event's metadata so re-delivery of the same webhook
// always produces the same number.
package scoring

import (
	"encoding/json"
	"strings"

	"github.com/tributaryhq/tributary/pkg/models"
)

// Keyword sets applied to the lowercased title+description
var (
	urgencyKeywords     = []string{"urgent", "critical", "blocker", "outage", "down", "fail", "error", "exception"}
	remediationKeywords = []string{"fix", "patch", "resolve"}
	lowSignalKeywords   = []string{"chore", "refactor", "docs", "style", "test"}
	automationFragments = []string{"dependabot", "renovate", "snyk", "bot"}
)

// Per-source bases reflect observed average importance per channel
var sourceBase = map[models.Source]int{
	models.SourceJira:    50,
	models.SourceDiscord: 40,
	models.SourceGitHub:  30,
}

const defaultBase = 20

// ScoreInput is the event metadata the scorer inspects
type ScoreInput struct {
	Source      models.Source
	Title       string
	Description string
	Metadata    json.RawMessage
}

// Scorer computes attention scores in [0,100]
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the attention score for an event. Deterministic and total:
// any input yields a value in [0,100].
func (s *Scorer) Score(input ScoreInput) int {
	score, ok := sourceBase[input.Source]
	if !ok {
		score = defaultBase
	}

	text := strings.ToLower(input.Title + " " + input.Description)

	if containsAny(text, urgencyKeywords) {
		score += 40
	}
	if containsAny(text, remediationKeywords) {
		score += 10
	}
	if containsAny(text, lowSignalKeywords) {
		score -= 10
	}
	if containsAny(text, automationFragments) {
		score -= 20
	}

	score += metadataAdjustment(input.Metadata)

	return clamp(score, 0, 100)
}

func metadataAdjustment(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var meta struct {
		Status   string `json:"status"`
		Merged   bool   `json:"merged"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		// opaque provider payloads with unexpected shapes contribute nothing
		return 0
	}

	adjustment := 0
	if strings.EqualFold(meta.Status, "closed") || meta.Merged {
		adjustment -= 10
	}
	if meta.Priority == "High" || meta.Priority == "Highest" {
		adjustment += 30
	}
	return adjustment
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
