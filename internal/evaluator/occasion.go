package evaluator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Occasion is one input token with its position and derived features.
type Occasion struct {
	Token         string `json:"token"`
	Lower         string `json:"lower"`
	Position      int    `json:"position"`
	Length        int    `json:"length"`
	Capitalized   bool   `json:"capitalized"`
	TrailingPunct rune   `json:"trailing_punct,omitempty"`
	SentenceStart bool   `json:"sentence_start"`
}

// EndsSentence reports whether the occasion closes a sentence.
func (o Occasion) EndsSentence() bool {
	return o.TrailingPunct == '.' || o.TrailingPunct == '!' || o.TrailingPunct == '?'
}

// Tokenize splits text into occasions. Surrounding punctuation is stripped
// from the token; the last trailing punctuation mark is kept as a feature.
// Apostrophes inside words survive ("can't").
func Tokenize(text string) []Occasion {
	var out []Occasion
	start := true
	for _, raw := range strings.Fields(text) {
		tok := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
		})
		tok = strings.Trim(tok, "'")

		var punct rune
		if last, size := utf8.DecodeLastRuneInString(raw); size > 0 && unicode.IsPunct(last) && last != '\'' {
			punct = last
		}

		if tok != "" {
			first, _ := utf8.DecodeRuneInString(tok)
			out = append(out, Occasion{
				Token:         tok,
				Lower:         strings.ToLower(tok),
				Position:      len(out),
				Length:        utf8.RuneCountInString(tok),
				Capitalized:   unicode.IsUpper(first),
				TrailingPunct: punct,
				SentenceStart: start,
			})
		} else if punct != 0 && len(out) > 0 {
			// Detached punctuation ("really ?") belongs to the previous token.
			out[len(out)-1].TrailingPunct = punct
		}
		start = punct == '.' || punct == '!' || punct == '?'
	}
	return out
}

// sentences groups occasions into sentences using trailing punctuation.
func sentences(occasions []Occasion) [][]Occasion {
	var out [][]Occasion
	begin := 0
	for i, o := range occasions {
		if o.EndsSentence() {
			out = append(out, occasions[begin:i+1])
			begin = i + 1
		}
	}
	if begin < len(occasions) {
		out = append(out, occasions[begin:])
	}
	return out
}

// joinText rebuilds a plain-text form of the occasions.
func joinText(occasions []Occasion) string {
	var b strings.Builder
	for i, o := range occasions {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(o.Token)
		if o.TrailingPunct != 0 {
			b.WriteRune(o.TrailingPunct)
		}
	}
	return b.String()
}
