package mailer

import (
	"regexp"

	"github.com/danielkov/hireloop/internal/tracker"
)

// messageIDPattern matches the marker the dispatcher embeds in trace
// comments after every successful send.
var messageIDPattern = regexp.MustCompile(`message-id: <([^>]+)>`)

// Threading reconstructs reply headers from the record's trace-comment
// history instead of a private datastore. Comments arrive newest first: the
// first message id found becomes In-Reply-To, all of them form the
// References chain in chronological order.
func Threading(comments []*tracker.Comment) (inReplyTo string, references []string) {
	for _, comment := range comments {
		matches := messageIDPattern.FindAllStringSubmatch(comment.Body, -1)
		for _, match := range matches {
			id := "<" + match[1] + ">"
			if inReplyTo == "" {
				inReplyTo = id
			}
			references = append(references, id)
		}
	}

	// References want oldest first.
	for i, j := 0, len(references)-1; i < j; i, j = i+1, j-1 {
		references[i], references[j] = references[j], references[i]
	}

	return inReplyTo, references
}
