package generator

import (
	"regexp"
	"strings"
)

// fencePattern matches a fenced code block, optionally tagged python.
var fencePattern = regexp.MustCompile("(?s)```(?:python|py)?\\s*\n(.*?)```")

// extractCode pulls code out of a model response. Fenced blocks win; a
// response that already looks like bare code is used directly. Returns ""
// when no code can be found.
func extractCode(response string) string {
	if m := fencePattern.FindStringSubmatch(response); m != nil {
		return cleanCode(m[1])
	}
	if looksLikeCode(response) {
		return cleanCode(response)
	}
	return ""
}

// looksLikeCode applies a cheap heuristic for responses that are plain code
// without markdown fences.
func looksLikeCode(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	markers := []string{"import ", "from ", "def ", "class ", "results", "print("}
	lines := strings.Split(trimmed, "\n")
	hits := 0
	for _, line := range lines {
		l := strings.TrimSpace(line)
		for _, m := range markers {
			if strings.HasPrefix(l, m) {
				hits++
				break
			}
		}
	}
	// At least a third of nonempty lines should look like statements.
	nonempty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonempty++
		}
	}
	return nonempty > 0 && hits*3 >= nonempty
}

// cleanCode strips stray fences and surrounding whitespace.
func cleanCode(code string) string {
	code = strings.ReplaceAll(code, "```python", "")
	code = strings.ReplaceAll(code, "```", "")
	return strings.TrimSpace(code) + "\n"
}
