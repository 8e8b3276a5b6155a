// Package intent classifies free-text student messages into the kind of
// specialist that should answer them.
package intent

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is the triage tag computed once per message.
type Intent string

const (
	Concept Intent = "concept"
	Code    Intent = "code"
)

// codeBonus is added to the code score when the text looks like a program.
const codeBonus = 3

// ErrUnknown is returned by Parse for tags outside the known set.
var ErrUnknown = errors.New("unknown intent")

// ConceptMarkers score towards an explanation request.
var ConceptMarkers = []string{
	"explain", "what is", "what are", "how does", "how do", "why",
	"define", "describe", "tell me about", "teach", "learn",
	"difference between", "example", "concept", "meaning",
	"tutorial", "help me understand", "for loop", "while loop",
	"variable", "function", "class", "list", "dictionary", "string",
	"integer", "boolean", "tuple", "set", "module", "import",
}

// CodeMarkers score towards running or debugging code.
var CodeMarkers = []string{
	"run", "execute", "code", "error", "bug", "fix", "debug",
	"traceback", "exception", "syntax", "indent", "output",
	"print", "compile", "test this", "try this",
}

// Classify maps text to an intent. Markers match as plain substrings of the
// lower-cased text. Code wins only with a strictly greater score; ties,
// including empty input, resolve to Concept.
func Classify(text string) Intent {
	concept, code := Scores(text)
	if code > concept {
		return Code
	}
	return Concept
}

// Scores returns the concept and code scores used by Classify, code bonus
// included.
func Scores(text string) (concept, code int) {
	lower := strings.ToLower(text)

	concept = countMarkers(lower, ConceptMarkers)
	code = countMarkers(lower, CodeMarkers)

	if strings.Contains(text, "```") || strings.HasPrefix(lower, "def ") || strings.HasPrefix(lower, "for ") {
		code += codeBonus
	}
	return concept, code
}

func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			n++
		}
	}
	return n
}

// Parse converts a wire tag back into an Intent.
func Parse(s string) (Intent, error) {
	switch Intent(s) {
	case Concept, Code:
		return Intent(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, s)
}

func (i Intent) String() string { return string(i) }
