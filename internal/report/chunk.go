// Package report renders registry listings and reconciliation results into
// message-sized text blocks.
package report

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// MaxChunkChars is the largest block a single message body may carry.
const MaxChunkChars = 4000

// Chunk splits text into blocks of at most limit characters. Blocks break on
// line boundaries when a line fits and never inside a grapheme cluster, so
// combined emoji and accented names survive intact. A limit <= 0 uses
// MaxChunkChars.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxChunkChars
	}
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		size := utf8.RuneCountInString(line)
		sep := 0
		if cur.Len() > 0 {
			sep = 1
		}
		if n+sep+size <= limit {
			if sep == 1 {
				cur.WriteByte('\n')
			}
			cur.WriteString(line)
			n += sep + size
			continue
		}

		flush()
		if size <= limit {
			cur.WriteString(line)
			n = size
			continue
		}
		for _, part := range splitGraphemes(line, limit) {
			flush()
			cur.WriteString(part)
			n = utf8.RuneCountInString(part)
		}
	}
	flush()
	return chunks
}

// splitGraphemes cuts s into pieces of at most limit runes without breaking
// a cluster. A single cluster longer than limit becomes its own piece.
func splitGraphemes(s string, limit int) []string {
	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	state := -1
	for s != "" {
		var cluster string
		cluster, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		size := utf8.RuneCountInString(cluster)
		if n > 0 && n+size > limit {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
		cur.WriteString(cluster)
		n += size
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
