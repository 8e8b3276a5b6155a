// Package fallback produces canned answers for when a specialist cannot be
// reached.
package fallback

import (
	"strings"

	"github.com/comigor/triage-go/internal/intent"
)

// Marker is the agent tag attached to every fallback answer. It never equals
// a real specialist name.
const Marker = "triage-fallback"

// CodeInstruction is the answer for code requests.
const CodeInstruction = "Please use the code editor to run your code."

type topic struct {
	marker string
	answer string
}

// topics is checked in order; the first marker found wins.
var topics = []topic{
	{
		marker: "for loop",
		answer: "A **for loop** in Python iterates over a sequence (list, string, range, etc.).\n\n" +
			"```python\n# Basic for loop\nfor i in range(5):\n    print(i)  # prints 0, 1, 2, 3, 4\n\n" +
			"# Looping over a list\nfruits = ['apple', 'banana', 'cherry']\n" +
			"for fruit in fruits:\n    print(fruit)\n```\n\n" +
			"Try writing a for loop in the code editor!",
	},
	{
		marker: "while loop",
		answer: "A **while loop** repeats as long as a condition is True.\n\n" +
			"```python\ncount = 0\nwhile count < 5:\n    print(count)\n    count += 1\n```\n\n" +
			"Be careful with infinite loops - always make sure the condition eventually becomes False!",
	},
	{
		marker: "variable",
		answer: "A **variable** stores a value that you can use later.\n\n" +
			"```python\nname = 'Maya'  # string variable\nage = 16       # integer variable\npi = 3.14      # float variable\n\nprint(f'{name} is {age} years old')\n```\n\n" +
			"Python variables don't need type declarations - the type is inferred from the value.",
	},
	{
		marker: "list",
		answer: "A **list** is an ordered, mutable collection in Python.\n\n" +
			"```python\nfruits = ['apple', 'banana', 'cherry']\n\n" +
			"# Access by index\nprint(fruits[0])  # 'apple'\n\n" +
			"# Add items\nfruits.append('date')\n\n" +
			"# Loop through\nfor fruit in fruits:\n    print(fruit)\n```",
	},
	{
		marker: "function",
		answer: "A **function** is a reusable block of code.\n\n" +
			"```python\ndef greet(name):\n    return f'Hello, {name}!'\n\n" +
			"result = greet('Maya')\nprint(result)  # 'Hello, Maya!'\n```\n\n" +
			"Functions help organize code and avoid repetition.",
	},
}

// Menu is returned for concept questions that match no known topic.
const Menu = "Great question! I can help you learn Python. Try asking about:\n" +
	"- Variables and data types\n" +
	"- For loops and while loops\n" +
	"- Lists, dictionaries, and sets\n" +
	"- Functions and classes\n\n" +
	"Or write some code in the editor and I'll help you understand it!"

// Answer returns the canned reply for text classified as in.
func Answer(in intent.Intent, text string) string {
	if in == intent.Code {
		return CodeInstruction
	}
	lower := strings.ToLower(text)
	for _, t := range topics {
		if strings.Contains(lower, t.marker) {
			return t.answer
		}
	}
	return Menu
}
