package agent

import (
	"regexp"
	"strings"
)

// Bulk actions gated behind explicit confirmation.
const (
	ActionDeleteAll   = "delete_all"
	ActionCompleteAll = "complete_all"
)

// bulkPatterns classify a user phrase as irreversible-at-scale before any
// backend call is made. The static policy errs toward asking: a false
// positive costs one confirmation round-trip, a false negative costs the
// user their task list.
var bulkPatterns = []struct {
	re     *regexp.Regexp
	action string
}{
	{regexp.MustCompile(`delete\s+(all|every|each)\s+(of\s+)?(my\s+)?(task|todo)`), ActionDeleteAll},
	{regexp.MustCompile(`(remove|clear)\s+(all|every|each)\s+(of\s+)?(my\s+)?(task|todo)`), ActionDeleteAll},
	{regexp.MustCompile(`complete\s+(all|every|each)\s+(of\s+)?(my\s+)?(task|todo)`), ActionCompleteAll},
	{regexp.MustCompile(`mark\s+(all|every|each)\s+(of\s+)?(my\s+)?(task|todo).*(done|complete)`), ActionCompleteAll},
	{regexp.MustCompile(`finish\s+(all|every|each)\s+(of\s+)?(my\s+)?(task|todo)`), ActionCompleteAll},
}

// detectBulkOperation returns the bulk action a message requests, or ""
// when the message is not a bulk request.
func detectBulkOperation(message string) string {
	lower := strings.ToLower(message)
	for _, p := range bulkPatterns {
		if p.re.MatchString(lower) {
			return p.action
		}
	}
	return ""
}
