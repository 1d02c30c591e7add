package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributaryhq/tributary/pkg/models"
)

func TestExtractReferences_TicketKeys(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "single key",
			text:     "Fix login timeout PROJ-123",
			expected: []string{"PROJ-123"},
		},
		{
			name:     "multiple keys",
			text:     "PROJ-1 blocks INFRA-42",
			expected: []string{"PROJ-1", "INFRA-42"},
		},
		{
			name:     "duplicate mentions collapse",
			text:     "PROJ-7 and again PROJ-7",
			expected: []string{"PROJ-7"},
		},
		{
			name:     "digit in project code",
			text:     "see AB2-19",
			expected: []string{"AB2-19"},
		},
		{
			name:     "lowercase is not a ticket key",
			text:     "proj-123 is a branch name",
			expected: nil,
		},
		{
			name:     "uuid segments are not ticket keys",
			text:     "id 550e8400-e29b-41d4",
			expected: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			refs := ExtractReferences(tc.text)
			var keys []string
			for _, ref := range refs {
				if ref.Subtype == models.LinkSubtypeTicketReference {
					keys = append(keys, ref.TicketKey)
				}
			}
			assert.Equal(t, tc.expected, keys)
		})
	}
}

func TestExtractReferences_IssueNumbers(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []int
	}{
		{
			name:     "bare reference",
			text:     "Fixes #42",
			expected: []int{42},
		},
		{
			name:     "start of text",
			text:     "#7 regression",
			expected: []int{7},
		},
		{
			name:     "multiple references",
			text:     "closes #1 and #2",
			expected: []int{1, 2},
		},
		{
			name:     "html entity is not a reference",
			text:     "rendered as &#123;",
			expected: nil,
		},
		{
			name:     "hash inside a word is not a reference",
			text:     "sha#123",
			expected: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			refs := ExtractReferences(tc.text)
			var numbers []int
			for _, ref := range refs {
				if ref.Subtype == models.LinkSubtypeIssueReference {
					numbers = append(numbers, ref.Number)
				}
			}
			assert.Equal(t, tc.expected, numbers)
		})
	}
}

func TestExtractReferences_URLs(t *testing.T) {
	refs := ExtractReferences("see https://github.com/acme/api/pull/88 and https://gitlab.com/acme/web/-/issues/9")
	var urls []Reference
	for _, ref := range refs {
		if ref.Subtype == models.LinkSubtypeURLReference {
			urls = append(urls, ref)
		}
	}

	require.Len(t, urls, 2)
	require.NotNil(t, urls[0].RepoName)
	assert.Equal(t, "acme/api", *urls[0].RepoName)
	assert.Equal(t, 88, urls[0].Number)
	require.NotNil(t, urls[1].RepoName)
	assert.Equal(t, "acme/web", *urls[1].RepoName)
	assert.Equal(t, 9, urls[1].Number)
}

func TestExtractReferences_MixedText(t *testing.T) {
	refs := ExtractReferences("PROJ-55: hotfix for #12, context in https://github.com/acme/api/issues/12")

	var subtypes []models.LinkSubtype
	for _, ref := range refs {
		subtypes = append(subtypes, ref.Subtype)
	}
	assert.Contains(t, subtypes, models.LinkSubtypeTicketReference)
	assert.Contains(t, subtypes, models.LinkSubtypeIssueReference)
	assert.Contains(t, subtypes, models.LinkSubtypeURLReference)
}

func TestExtractReferences_EmptyText(t *testing.T) {
	assert.Empty(t, ExtractReferences(""))
}
