package text

import (
	"regexp"
	"strings"
	"unicode"
)

var boilerplateTokens = map[string]bool{
	"cover":            true,
	"toc":              true,
	"contents":         true,
	"copyright":        true,
	"dedication":       true,
	"acknowledgments":  true,
	"acknowledgements": true,
	"colophon":         true,
	"titlepage":        true,
	"halftitle":        true,
	"bibliography":     true,
	"endnotes":         true,
	"imprint":          true,
}

var boilerplateCompounds = []string{"abouttheauthor", "alsoby", "titlepage", "halftitle"}

var rightsRe = regexp.MustCompile(`(?i)(all rights reserved|isbn[\s:-]*[0-9x-]{10,}|printed in|first published)`)

// IsBoilerplateSection flags front and back matter that carries no narrative.
// These are conservative heuristics; a borderline section is kept.
func IsBoilerplateSection(id, plain string) bool {
	trimmed := strings.TrimSpace(plain)
	if trimmed == "" {
		return true
	}

	if isBoilerplateID(id) {
		return true
	}

	words := strings.Fields(trimmed)

	// Bare labels such as "Part One" or a lone heading
	if len(words) <= 3 && len(trimmed) < 30 {
		return true
	}

	// Copyright and imprint pages are short and full of legal phrases
	if len(words) < 300 && len(rightsRe.FindAllString(trimmed, -1)) >= 2 {
		return true
	}

	return false
}

func isBoilerplateID(id string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(id), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(tokens) == 0 {
		return false
	}

	for _, tok := range tokens {
		if boilerplateTokens[tok] {
			return true
		}
	}

	joined := strings.Join(tokens, "")
	for _, c := range boilerplateCompounds {
		if strings.Contains(joined, c) {
			return true
		}
	}

	// "index.xhtml" is a back-of-book index; "index_split_003.html" is a converter's body file.
	if tokens[0] == "index" {
		for _, tok := range tokens[1:] {
			if tok == "split" {
				return false
			}
		}
		return true
	}
	return false
}
