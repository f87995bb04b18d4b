package ingest

import "fmt"

const (
	snippetMinWords = 8
	snippetMaxWords = 40
)

// ExtractionInstructions is the system prompt sent with every chunk.
var ExtractionInstructions = fmt.Sprintf(`You extract short, stand-alone, shareable passages from a book.

The input is a passage in which every sentence is wrapped in numbered tags, for example <12>sentence</12>.

A snippet must:
- be between %[1]d and %[2]d words long
- make sense without the surrounding text
- not be a heading, citation, index entry, reference or legal notice

For each snippet return:
- snippetText: the snippet, lightly rephrased for clarity if needed. Never invent facts, names or numbers.
- context: one short sentence describing what the snippet is about.
- themes: a few broad lower-case themes.
- originalTextWithIndices: the source sentences the snippet is drawn from, copied with their numbered tags.

Prefer snippets drawn from a single sentence. Use a range only when it is required for the idea to stand alone.
If nothing in the passage qualifies, or you cannot reproduce the tagged source sentences, return an empty snippets array.`, snippetMinWords, snippetMaxWords)

// ClassifierInstructions is the system prompt used to reject front and back matter.
const ClassifierInstructions = `You decide whether a section of a book should be excluded from analysis.
Exclude cover pages, title pages, dedications, epigraphs, front matter, glossaries, indexes, tables of contents,
about the author pages, acknowledgments, praise, footnotes, copyright pages and bibliographies.
Section identifiers are often abbreviated, for example "toc" or "copy". Exclude those as well.
If unsure, exclude the section by answering reject = true.`
