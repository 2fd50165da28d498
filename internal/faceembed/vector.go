package faceembed

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes an embedding as raw little-endian float64 bytes,
// the same layout the stored blobs use on disk.
func EncodeVector(vec []float64) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeVector reverses EncodeVector. A nil or empty blob decodes to nil.
func DecodeVector(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 8", len(blob))
	}
	vec := make([]float64, len(blob)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec, nil
}

// EuclideanDistance computes the L2 distance between two embeddings.
// Returns +Inf for mismatched or empty inputs so invalid pairs can never
// satisfy a match tolerance.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
