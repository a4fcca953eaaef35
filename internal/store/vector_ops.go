package store

import (
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

// serializeVector converts a float32 slice to a little-endian byte blob,
// the layout the vector extension reads directly.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice.
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var matchOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// sanitizeMatchQuery escapes FTS5 operators and syntax characters so user
// queries are always treated as plain terms.
func sanitizeMatchQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	replacer := strings.NewReplacer(
		`"`, `""`,
		`*`, ` `,
		`(`, ` `,
		`)`, ` `,
		`:`, ` `,
		`^`, ` `,
		`-`, ` `,
	)
	escaped := replacer.Replace(query)

	escaped = matchOperatorPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		return `"` + match + `"`
	})

	return strings.TrimSpace(escaped)
}

// SerializeVector is an exported helper for testing.
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing.
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
