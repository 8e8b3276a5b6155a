package fallback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/triage-go/internal/intent"
)

func TestAnswer_Code(t *testing.T) {
	require.Equal(t, CodeInstruction, Answer(intent.Code, "explain for loops"))
	require.Equal(t, CodeInstruction, Answer(intent.Code, ""))
}

func TestAnswer_ConceptTopics(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"How does a FOR LOOP work?", "**for loop**"},
		{"what is a while loop", "**while loop**"},
		{"explain variables", "**variable**"},
		{"how do I sort a list", "**list**"},
		{"what is a function", "**function**"},
		{"tell me about recursion", "Great question!"},
		{"", "Great question!"},
	}
	for _, tc := range cases {
		got := Answer(intent.Concept, tc.text)
		require.Truef(t, strings.Contains(got, tc.want), "text %q: got %q", tc.text, got)
	}
}

func TestAnswer_FirstMatchWins(t *testing.T) {
	// "for loop" is checked before "list" and "function".
	got := Answer(intent.Concept, "a function with a for loop over a list")
	require.Contains(t, got, "**for loop**")

	// "variable" is checked before "list".
	got = Answer(intent.Concept, "list of variables")
	require.Contains(t, got, "**variable**")
}

func TestMarkerIsNotASpecialist(t *testing.T) {
	require.NotEqual(t, "concepts", Marker)
	require.NotEqual(t, "code-runner", Marker)
}
