package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits lesson text into overlapping chunks of whole sentences, bounded by a
// character budget.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap, both in characters.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split packs sentences into chunks of at most chunkSize characters. Each chunk after the
// first starts with the trailing sentences of the previous one, up to chunkOverlap
// characters. A sentence longer than chunkSize is emitted alone.
func (c *Chunker) Split(text string) []string {
	sentences := SplitSentences(strings.Join(strings.Fields(text), " "))
	var chunks []string
	for i := 0; i < len(sentences); {
		size := 0
		end := i
		for end < len(sentences) {
			n := utf8.RuneCountInString(sentences[end])
			if end > i {
				n++ // joining space
			}
			if size+n > c.chunkSize && end > i {
				break
			}
			size += n
			end++
		}
		current := sentences[i:end]
		chunks = append(chunks, strings.Join(current, " "))
		if end >= len(sentences) {
			break
		}

		overlapSentences, overlapSize := 0, 0
		for k := len(current) - 1; k > 0 && c.chunkOverlap > 0; k-- {
			n := utf8.RuneCountInString(current[k])
			if overlapSentences > 0 {
				n++
			}
			if overlapSize+n > c.chunkOverlap {
				break
			}
			overlapSize += n
			overlapSentences++
		}
		// always advance by at least one sentence
		i = end - overlapSentences
	}
	return chunks
}

// SplitSentences splits text after '.', '!' or '?' followed by whitespace and a sentence
// start (an upper-case letter, digit or opening quote). Abbreviations such as "e.g." and
// "Dr." do not end a sentence.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !startsSentence(runes[j]) {
			continue
		}
		if r == '.' && isAbbreviation(runes[start:i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '\'' || r == '(' || r == '“'
}

// isAbbreviation reports whether the last word of s (ending in '.') looks like "Dr." or "e.g.".
func isAbbreviation(s []rune) bool {
	k := len(s) - 1
	for k > 0 && !unicode.IsSpace(s[k-1]) {
		k--
	}
	word := s[k:]
	switch {
	case len(word) == 3 && unicode.IsUpper(word[0]) && unicode.IsLower(word[1]):
		return true // Mr. Dr. St.
	case len(word) >= 4 && word[len(word)-3] == '.' && unicode.IsLetter(word[len(word)-2]):
		return true // e.g. i.e. U.S.
	case len(word) == 2 && unicode.IsUpper(word[0]):
		return true // initials: J. Smith
	}
	return false
}
