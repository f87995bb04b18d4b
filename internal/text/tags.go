package text

import (
	"strconv"
	"strings"
)

// Reasons a tagged span cannot be resolved to indices.
const (
	ReasonEmpty  = "empty span"
	ReasonNoTags = "no index tags"
)

type TaggedFragment struct {
	Index int
	Text  string
}

// TagParse is the outcome of ParseTaggedSpan. Reason is empty on success.
type TagParse struct {
	Fragments []TaggedFragment
	Reason    string
}

func (p TagParse) OK() bool {
	return p.Reason == "" && len(p.Fragments) > 0
}

// Bounds returns the smallest and largest tagged index. Only meaningful when OK.
func (p TagParse) Bounds() (int, int) {
	if len(p.Fragments) == 0 {
		return 0, 0
	}
	lo, hi := p.Fragments[0].Index, p.Fragments[0].Index
	for _, f := range p.Fragments[1:] {
		if f.Index < lo {
			lo = f.Index
		}
		if f.Index > hi {
			hi = f.Index
		}
	}
	return lo, hi
}

// ParseTaggedSpan reads spans of the form "<12>text</12> <13>text".
// A fragment starts at an opening tag and ends at a closing tag, the next opening tag or the end of input.
// Text outside fragments is ignored, as are mismatched closing numbers.
func ParseTaggedSpan(s string) TagParse {
	if strings.TrimSpace(s) == "" {
		return TagParse{Reason: ReasonEmpty}
	}

	var frags []TaggedFragment
	i := 0
	for i < len(s) {
		n, width, ok := openTag(s[i:])
		if !ok {
			i++
			continue
		}
		i += width

		end, next := len(s), len(s)
		for j := i; j < len(s); j++ {
			if w, ok := closeTag(s[j:]); ok {
				end, next = j, j+w
				break
			}
			if _, _, ok := openTag(s[j:]); ok {
				end, next = j, j
				break
			}
		}

		frags = append(frags, TaggedFragment{Index: n, Text: strings.TrimSpace(s[i:end])})
		i = next
	}

	if len(frags) == 0 {
		return TagParse{Reason: ReasonNoTags}
	}
	return TagParse{Fragments: frags}
}

// openTag matches "<digits>" at the start of s.
func openTag(s string) (int, int, bool) {
	if len(s) < 3 || s[0] != '<' {
		return 0, 0, false
	}
	k := 1
	for k < len(s) && s[k] >= '0' && s[k] <= '9' {
		k++
	}
	if k == 1 || k >= len(s) || s[k] != '>' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(s[1:k])
	if err != nil {
		return 0, 0, false
	}
	return n, k + 1, true
}

// closeTag matches "</digits>" at the start of s.
func closeTag(s string) (int, bool) {
	if len(s) < 4 || s[0] != '<' || s[1] != '/' {
		return 0, false
	}
	k := 2
	for k < len(s) && s[k] >= '0' && s[k] <= '9' {
		k++
	}
	if k == 2 || k >= len(s) || s[k] != '>' {
		return 0, false
	}
	return k + 1, true
}
