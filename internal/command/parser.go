// Package command parses chat messages into acceptance commands.
package command

import (
	"regexp"
	"strings"
)

// Marker is the literal token that makes a message an acceptance command.
const Marker = "【验收通过】"

var (
	mentionPattern = regexp.MustCompile(`@\S+\s*`)
	qualifierSeps  = []string{"/", ":", "："}
)

// Command is the parsed intent of one acceptance message. Requirements keeps
// the order they were written in; duplicates are preserved and processed
// independently downstream.
type Command struct {
	ProjectHint  string
	Requirements []string
}

// Parse extracts an acceptance command from raw message text. The second
// return value is false when the marker is absent, meaning the message is not
// an acceptance command at all. A marker with nothing parseable after it
// yields (Command with empty Requirements, true) so the caller can tell the
// sender nothing was recognized.
//
// projectNames is the configured project list in stable order; the first name
// that prefixes the payload (followed by "/", ":" or "：") wins as the
// qualifier.
func Parse(raw string, projectNames []string) (Command, bool) {
	idx := strings.Index(raw, Marker)
	if idx < 0 {
		return Command{}, false
	}
	payload := strings.TrimSpace(raw[idx+len(Marker):])
	payload = strings.TrimSpace(mentionPattern.ReplaceAllString(payload, ""))

	var cmd Command
	rest := payload
	for _, name := range projectNames {
		matched := false
		for _, sep := range qualifierSeps {
			prefix := name + sep
			if strings.HasPrefix(payload, prefix) {
				cmd.ProjectHint = name
				rest = strings.TrimSpace(payload[len(prefix):])
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}

	cmd.Requirements = splitRequirements(rest)
	return cmd, true
}

// splitRequirements splits on ideographic comma, full-width comma and
// half-width comma, trimming each piece and dropping empties.
func splitRequirements(raw string) []string {
	pieces := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '、' || r == '，' || r == ','
	})
	result := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		result = append(result, piece)
	}
	return result
}
