package store

import (
	"encoding/binary"
	"math"
)

// cosineEpsilon guards the similarity denominator against zero vectors.
const cosineEpsilon = 1e-4

// SerializeVector converts a float32 slice to a byte blob (little-endian).
func SerializeVector(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DeserializeVector converts a byte blob back to a float32 slice. A blob
// whose length is not a positive multiple of 4 is malformed and yields nil,
// which readers treat as "no embedding".
func DeserializeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched dimensions or a near-zero denominator yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	// Epsilon keeps a zero vector from producing NaN; the dot product is
	// zero in that case so the result degrades to 0.
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + cosineEpsilon)
}

// NormalizeVector scales v to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
