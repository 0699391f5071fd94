// Package chunk splits document text into overlapping pieces sized for
// embedding. The splitter prefers paragraph boundaries, then line boundaries,
// then word boundaries, and only cuts mid-word when a single word exceeds the
// chunk size.
package chunk

import "strings"

const (
	defaultSize    = 1000
	defaultOverlap = 200
)

var separators = []string{"\n\n", "\n", " "}

type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = defaultSize
	}
	if overlap < 0 {
		overlap = defaultOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the chunks of text. Whitespace-only input yields nil.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := s.split(text, 0)
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Splitter) split(text string, sepIdx int) []string {
	if len([]rune(text)) <= s.size {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return s.splitRunes(text)
	}

	sep := separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.split(text, sepIdx+1)
	}

	var chunks []string
	var current []string
	currentLen := 0
	for _, part := range parts {
		partLen := len([]rune(part))
		if currentLen > 0 && currentLen+len(sep)+partLen > s.size {
			chunks = append(chunks, s.flush(current, sep, sepIdx)...)
			current = s.carryOverlap(current, sep)
			currentLen = joinedLen(current, sep)
		}
		current = append(current, part)
		if currentLen > 0 {
			currentLen += len(sep)
		}
		currentLen += partLen
	}
	if len(current) > 0 {
		chunks = append(chunks, s.flush(current, sep, sepIdx)...)
	}
	return chunks
}

// flush joins the accumulated parts; an oversized joined piece (single part
// longer than the chunk size) recurses into the next separator.
func (s *Splitter) flush(parts []string, sep string, sepIdx int) []string {
	joined := strings.Join(parts, sep)
	if len([]rune(joined)) <= s.size {
		return []string{joined}
	}
	return s.split(joined, sepIdx+1)
}

// carryOverlap keeps trailing parts whose joined length fits the overlap
// budget, so consecutive chunks share context.
func (s *Splitter) carryOverlap(parts []string, sep string) []string {
	if s.overlap == 0 || len(parts) == 0 {
		return nil
	}
	kept := 0
	total := 0
	for i := len(parts) - 1; i >= 0; i-- {
		partLen := len([]rune(parts[i]))
		if total > 0 {
			partLen += len(sep)
		}
		if total+partLen > s.overlap {
			break
		}
		total += partLen
		kept++
	}
	if kept == 0 {
		return nil
	}
	carried := make([]string, kept)
	copy(carried, parts[len(parts)-kept:])
	return carried
}

// splitRunes is the last resort for text with no usable separators.
func (s *Splitter) splitRunes(text string) []string {
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); {
		end := i + s.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
		i += s.size - s.overlap
	}
	return chunks
}

func joinedLen(parts []string, sep string) int {
	if len(parts) == 0 {
		return 0
	}
	total := 0
	for _, p := range parts {
		total += len([]rune(p))
	}
	return total + len(sep)*(len(parts)-1)
}
