package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"Smith, John Jr.":      "SMITH JOHN",
		"  o'brien   patrick ": "OBRIEN PATRICK",
		"JOHN SMITH III":       "JOHN SMITH",
		"Mary-Jane Roe":        "MARYJANE ROE",
		"":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanName(in), in)
	}
}

func TestPartialMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"JOHN MICHAEL SMITH", "JOHN SMITH", true},
		{"JOHN SMITH", "JOHN MICHAEL SMITH", true},
		{"JOHN ANDREW JONES", "JOHN SMITH", false},
		{"SMITH, JOHN JR", "JOHN SMITH", true},
		{"JOHN", "JOHN SMITH", false},
		{"JOHN MICHAEL SMITH", "JOHN ANDREW SMITH", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PartialMatch(tt.a, tt.b, 2), "%s ~ %s", tt.a, tt.b)
	}
}
