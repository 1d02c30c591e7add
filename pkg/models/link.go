package models

import "time"

// LinkType distinguishes the detector that produced a link
type LinkType string

const (
	LinkTypeLexical  LinkType = "lexical"
	LinkTypeSemantic LinkType = "semantic"
)

// LinkSubtype refines lexical links by the reference pattern that matched
type LinkSubtype string

const (
	LinkSubtypeTicketReference LinkSubtype = "ticket_reference"
	LinkSubtypeIssueReference  LinkSubtype = "issue_reference"
	LinkSubtypeURLReference    LinkSubtype = "url_reference"
)

// EventLink is a directed, typed relationship between two activities.
// A given ordered pair is unique per link_type; links are append-only.
type EventLink struct {
	ID            string       `json:"id" db:"id"`
	SourceEventID string       `json:"source_event_id" db:"source_event_id"`
	TargetEventID string       `json:"target_event_id" db:"target_event_id"`
	LinkType      LinkType     `json:"link_type" db:"link_type"`
	Subtype       *LinkSubtype `json:"subtype,omitempty" db:"subtype"`
	Similarity    *float64     `json:"similarity,omitempty" db:"similarity"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Relationship tags the direction of a link relative to the queried activity
type Relationship string

const (
	RelationshipOutgoing Relationship = "outgoing"
	RelationshipIncoming Relationship = "incoming"
)

// LinkedActivity is one entry in a link query result: the link plus the
// summary of the activity on the far side, tagged with direction.
type LinkedActivity struct {
	LinkID       string       `json:"link_id" db:"link_id"`
	ActivityID   string       `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Source       Source       `json:"source" db:"source"`
	ActivityType string       `json:"type" db:"activity_type"`
	RepoName     *string      `json:"repo_name,omitempty" db:"repo_name"`
	PRNumber     *int         `json:"-" db:"pr_number"`
	IssueNumber  *int         `json:"-" db:"issue_number"`
	URL          string       `json:"url" db:"-"`
	Relationship Relationship `json:"relationship" db:"relationship"`
	LinkType     LinkType     `json:"link_type" db:"link_type"`
	Similarity   *float64     `json:"similarity,omitempty" db:"similarity"`
}

// LinksResponse is the response shape for link retrieval
type LinksResponse struct {
	Links []LinkedActivity `json:"links"`
}
