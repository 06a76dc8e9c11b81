package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"unicode"

	"github.com/kbanc85/claudia-sub002/internal/embedding"
)

// Embeddings live as BLOBs in the same row (and transaction) as the memory
// they describe. Little-endian float32, no header: the vector dimension is
// the blob length / 4.

func encodeVector(v embedding.Vector) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) embedding.Vector {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make(embedding.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// contentHash is the keyword-only dedup fallback: SHA-256 of the content
// lowercased with whitespace and punctuation collapsed.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.Join(tokenize(content), " ")))
	return hex.EncodeToString(sum[:])
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termOverlap returns the fraction of query tokens present in the content
// token set. Used as the keyword signal when FTS cannot serve the query.
func termOverlap(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, tok := range tokenize(content) {
		set[tok] = true
	}
	hits := 0
	for _, tok := range queryTokens {
		if set[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}
