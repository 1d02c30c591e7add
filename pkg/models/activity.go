package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tributaryhq/tributary/pkg/database"
)

// Source identifies the collaboration tool an event came from
type Source string

const (
	SourceGitHub  Source = "github"
	SourceGitLab  Source = "gitlab"
	SourceJira    Source = "jira"
	SourceSlack   Source = "slack"
	SourceDiscord Source = "discord"
)

// IsChatSource reports whether the source is a chat platform. Chat providers
// retry aggressively on non-2xx responses, so their webhook paths must always
// answer with a success shape.
func (s Source) IsChatSource() bool {
	return s == SourceSlack || s == SourceDiscord
}

// Activity is the canonical unit of the normalized stream. Identity is the
// (source, external_id) pair; re-delivery of the same webhook must not create
// a second row.
type Activity struct {
	ID             string           `json:"id" db:"id"`
	OrganizationID *string          `json:"organization_id,omitempty" db:"organization_id"`
	Source         Source           `json:"source" db:"source"`
	EventType      string           `json:"event_type" db:"event_type"`
	ExternalID     string           `json:"external_id" db:"external_id"`
	ActivityType   string           `json:"activity_type" db:"activity_type"`
	Title          string           `json:"title" db:"title"`
	Description    string           `json:"description" db:"description"`
	RepoName       *string          `json:"repo_name,omitempty" db:"repo_name"`
	PRNumber       *int             `json:"pr_number,omitempty" db:"pr_number"`
	IssueNumber    *int             `json:"issue_number,omitempty" db:"issue_number"`
	UserID         *string          `json:"user_id,omitempty" db:"user_id"`
	Metadata       json.RawMessage  `json:"metadata,omitempty" db:"metadata"`
	Embedding      database.Vector  `json:"-" db:"embedding"`
	AttentionScore int              `json:"attention_score" db:"attention_score"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// ActivityURL derives the canonical provider URL for an activity from its
// source, repo and PR/issue number. Chat sources and jira have no derivable
// host, so they yield an empty string.
func ActivityURL(source Source, repoName *string, prNumber, issueNumber *int) string {
	if repoName == nil || *repoName == "" {
		return ""
	}
	switch source {
	case SourceGitHub:
		if prNumber != nil {
			return fmt.Sprintf("https://github.com/%s/pull/%d", *repoName, *prNumber)
		}
		if issueNumber != nil {
			return fmt.Sprintf("https://github.com/%s/issues/%d", *repoName, *issueNumber)
		}
	case SourceGitLab:
		if prNumber != nil {
			return fmt.Sprintf("https://gitlab.com/%s/-/merge_requests/%d", *repoName, *prNumber)
		}
		if issueNumber != nil {
			return fmt.Sprintf("https://gitlab.com/%s/-/issues/%d", *repoName, *issueNumber)
		}
	}
	return ""
}

// IngestEventInput is the canonical input every webhook adapter normalizes
// into before handing off to the ingestion gateway.
type IngestEventInput struct {
	OrganizationID *string         `json:"organization_id,omitempty"`
	Source         string          `json:"source" validate:"required"`
	EventType      string          `json:"event_type" validate:"required"`
	ExternalID     string          `json:"external_id" validate:"required"`
	ActivityType   string          `json:"activity_type" validate:"required"`
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description,omitempty"`
	RepoName       *string         `json:"repo_name,omitempty"`
	PRNumber       *int            `json:"pr_number,omitempty"`
	IssueNumber    *int            `json:"issue_number,omitempty"`
	UserID         *string         `json:"user_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ActivitySummary is the projection of an activity carried on link query results
type ActivitySummary struct {
	ID           string  `json:"id" db:"id"`
	Source       Source  `json:"source" db:"source"`
	ActivityType string  `json:"type" db:"activity_type"`
	Title        string  `json:"title" db:"title"`
	RepoName     *string `json:"repo_name,omitempty" db:"repo_name"`
}
