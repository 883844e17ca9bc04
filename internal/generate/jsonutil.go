package generate

import (
	"regexp"
	"strings"
)

var (
	// fencedBlockPattern matches a markdown code block, with or without a language tag.
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\s*```")
	// jsonArrayPattern matches from the first '[' to the last ']'.
	jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSONArray pulls a JSON array out of model output, tolerating code
// fences, surrounding prose, stray fence markers and trailing commas.
func ExtractJSONArray(content string) string {
	if m := fencedBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}
	content = strings.ReplaceAll(content, "```", "")
	match := jsonArrayPattern.FindString(content)
	if match == "" {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(match, "$1")
}
