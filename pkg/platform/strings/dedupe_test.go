package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"trims and drops empties", []string{"  gov-1 ", "", "  "}, []string{"gov-1"}},
		{"removes duplicates preserving order", []string{"gov-1", "gov-2", "gov-1"}, []string{"gov-1", "gov-2"}},
		{"duplicate after trim", []string{"gov-1", " gov-1"}, []string{"gov-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
