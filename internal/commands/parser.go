package commands

import (
	"regexp"
	"strings"
)

// commandPattern matches a leading "/" followed by a verb and, optionally,
// everything after the first space as free-text args. Spec.md §6 scopes the
// command surface to a single prefix at the start of the message — no
// inline or multi-prefix detection, unlike the teacher's general-purpose
// parser.
var commandPattern = regexp.MustCompile(`^/([a-zA-Z][a-zA-Z0-9_-]*)(?:\s+(.*))?$`)

// Parse detects a leading "/" command in text. ok is false if text does not
// start with a command.
func Parse(text string) (parsed ParsedCommand, ok bool) {
	text = strings.TrimSpace(text)
	match := commandPattern.FindStringSubmatch(text)
	if match == nil {
		return ParsedCommand{}, false
	}
	parsed.Name = strings.ToLower(match[1])
	if len(match) > 2 {
		parsed.Args = strings.TrimSpace(match[2])
	}
	return parsed, true
}

// IsCommand reports whether text would be detected as a command by Parse,
// without building the ParsedCommand.
func IsCommand(text string) bool {
	_, ok := Parse(text)
	return ok
}
