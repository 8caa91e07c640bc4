package entity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// relationWords are kin and role nouns that identify a person when preceded
// by a possessive ("my sister", "our boss").
var relationWords = map[string]bool{
	"mom": true, "mother": true, "mum": true, "dad": true, "father": true,
	"sister": true, "brother": true, "wife": true, "husband": true,
	"partner": true, "friend": true, "boss": true, "therapist": true,
	"son": true, "daughter": true, "grandmother": true, "grandma": true,
	"grandfather": true, "grandpa": true, "boyfriend": true, "girlfriend": true,
	"coworker": true, "colleague": true, "ex": true, "aunt": true, "uncle": true,
	"cousin": true, "roommate": true, "teacher": true, "kids": true, "baby": true,
}

var possessives = map[string]bool{"my": true, "our": true, "his": true, "her": true, "their": true}

var placePrepositions = map[string]bool{"in": true, "at": true, "to": true, "from": true, "near": true}

// capitalised words that are never entities on their own.
var stopCapitals = map[string]bool{
	"i": true, "i'm": true, "i've": true, "i'd": true, "i'll": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true, "ok": true, "okay": true,
}

type word struct {
	text          string
	lower         string
	sentenceStart bool
}

func splitWords(text string) []word {
	var words []word
	start := true
	for _, raw := range strings.Fields(text) {
		trimmed := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
		})
		if trimmed != "" {
			words = append(words, word{
				text:          trimmed,
				lower:         strings.ToLower(trimmed),
				sentenceStart: start,
			})
		}
		last, _ := lastRune(raw)
		start = last == '.' || last == '!' || last == '?'
	}
	return words
}

func lastRune(s string) (rune, bool) {
	r, size := utf8.DecodeLastRuneInString(s)
	return r, size > 0
}

func isCapitalised(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// Extract finds entity mentions in text. Keys are lowercase; consecutive
// capitalised words form one key ("New York" -> "new york"). Mentions are
// returned in order of appearance and may repeat.
func Extract(text string) []Mention {
	words := splitWords(text)
	var mentions []Mention

	for i := 0; i < len(words); i++ {
		w := words[i]

		if possessives[w.lower] && i+1 < len(words) && relationWords[words[i+1].lower] {
			next := words[i+1]
			mentions = append(mentions, Mention{
				Key:     next.lower,
				Type:    TypePerson,
				Surface: w.text + " " + next.text,
			})
			i++
			continue
		}

		if !isCapitalised(w.text) || w.sentenceStart || stopCapitals[w.lower] {
			continue
		}

		j := i + 1
		for j < len(words) && isCapitalised(words[j].text) && !words[j].sentenceStart && !stopCapitals[words[j].lower] {
			j++
		}
		parts := make([]string, 0, j-i)
		lowers := make([]string, 0, j-i)
		for _, p := range words[i:j] {
			parts = append(parts, p.text)
			lowers = append(lowers, p.lower)
		}

		typ := TypePerson
		if i > 0 && placePrepositions[words[i-1].lower] {
			typ = TypePlace
		}
		mentions = append(mentions, Mention{
			Key:     strings.Join(lowers, " "),
			Type:    typ,
			Surface: strings.Join(parts, " "),
		})
		i = j - 1
	}
	return mentions
}

// NormalizeKey lowercases and trims a key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
