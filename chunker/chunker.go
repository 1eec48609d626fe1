// Package chunker splits extracted document text into sentence-aligned
// pieces small enough for one speech synthesis call each.
package chunker

import (
	"strings"
	"unicode/utf8"

	"voynich/models"
)

// DefaultMaxChars is the chunk bound used when none is configured.
const DefaultMaxChars = 500

// Chunker packs sentences greedily into chunks of at most MaxChars
// characters. A single sentence longer than the bound becomes its own
// chunk rather than being cut mid-sentence.
type Chunker struct {
	MaxChars int
}

// New returns a Chunker. Non-positive bounds fall back to DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{MaxChars: maxChars}
}

// Normalize collapses every whitespace run, line breaks and Unicode
// spaces included, into one ASCII space and trims both ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Sentences splits normalized text after '.', '!' or '?' when followed by
// a space. The terminal mark stays with its sentence.
func Sentences(normalized string) []string {
	if normalized == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(normalized)-1; i++ {
		switch normalized[i] {
		case '.', '!', '?':
			if normalized[i+1] == ' ' {
				sentences = append(sentences, normalized[start:i+1])
				start = i + 2
				i++
			}
		}
	}
	if start < len(normalized) {
		sentences = append(sentences, normalized[start:])
	}

	return sentences
}

// Chunk normalizes text and returns its chunks in reading order.
func (c *Chunker) Chunk(text string) []models.TextChunk {
	var (
		chunks     []models.TextChunk
		current    strings.Builder
		currentLen int
	)

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, models.TextChunk{Index: len(chunks), Text: current.String()})
		current.Reset()
		currentLen = 0
	}

	for _, sentence := range Sentences(Normalize(text)) {
		n := utf8.RuneCountInString(sentence)

		if currentLen > 0 && currentLen+1+n <= c.MaxChars {
			current.WriteByte(' ')
			current.WriteString(sentence)
			currentLen += 1 + n
			continue
		}

		flush()
		current.WriteString(sentence)
		currentLen = n
	}
	flush()

	return chunks
}
