package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Mention
	}{
		{
			name: "possessive relation",
			text: "I talked to my sister yesterday.",
			want: []Mention{{Key: "sister", Type: TypePerson, Surface: "my sister"}},
		},
		{
			name: "mid-sentence name",
			text: "Yesterday Maria called me again.",
			want: []Mention{{Key: "maria", Type: TypePerson, Surface: "Maria"}},
		},
		{
			name: "place after preposition joins capitals",
			text: "We moved to New York last spring.",
			want: []Mention{{Key: "new york", Type: TypePlace, Surface: "New York"}},
		},
		{
			name: "sentence start and pronoun ignored",
			text: "Honestly I don't know. Maybe tomorrow.",
			want: nil,
		},
		{
			name: "repeats are kept",
			text: "my mom said that my Mom never listens",
			want: []Mention{
				{Key: "mom", Type: TypePerson, Surface: "my mom"},
				{Key: "mom", Type: TypePerson, Surface: "my Mom"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "new york", NormalizeKey("  New York "))
}
