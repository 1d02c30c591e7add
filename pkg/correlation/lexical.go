package correlation

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/tributaryhq/tributary/pkg/models"
)

var (
	// JIRA-style ticket keys: PROJ-123, AB2-9
	ticketKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

	// bare issue/PR references: #123 (not &#123; HTML entities, not part of a word)
	issueRefPattern = regexp.MustCompile(`(^|[^&\w])#(\d+)\b`)

	// forge URLs pointing at a PR or issue
	urlRefPattern = regexp.MustCompile(`https?://(?:www\.)?(?:github|gitlab)\.com/([\w.-]+/[\w.-]+?)/(?:pull|issues|-/merge_requests|-/issues)/(\d+)`)
)

// Reference is one cross-tool mention extracted from activity text
type Reference struct {
	Subtype   models.LinkSubtype
	TicketKey string  // set for ticket_reference
	RepoName  *string // set for url_reference
	Number    int     // set for issue_reference and url_reference
}

// ExtractReferences scans free text for ticket keys, #N issue references and
// forge URLs. Duplicate mentions collapse to one reference each.
func ExtractReferences(text string) []Reference {
	var refs []Reference
	seen := make(map[string]bool)

	add := func(key string, ref Reference) {
		if !seen[key] {
			seen[key] = true
			refs = append(refs, ref)
		}
	}

	for _, key := range ticketKeyPattern.FindAllString(text, -1) {
		add("ticket:"+key, Reference{Subtype: models.LinkSubtypeTicketReference, TicketKey: key})
	}

	for _, m := range urlRefPattern.FindAllStringSubmatch(text, -1) {
		repo := m[1]
		number, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		add(fmt.Sprintf("url:%s#%d", repo, number), Reference{Subtype: models.LinkSubtypeURLReference, RepoName: &repo, Number: number})
	}

	for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		add(fmt.Sprintf("issue:%d", number), Reference{Subtype: models.LinkSubtypeIssueReference, Number: number})
	}

	return refs
}
