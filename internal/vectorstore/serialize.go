package vectorstore

import (
	"encoding/binary"
	"math"
)

// SerializeVector packs a float32 vector into its little-endian byte form
// for storage, one f32 (4 bytes) per dimension.
func SerializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DeserializeVector reverses SerializeVector.
func DeserializeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// Normalize returns a unit-norm copy of v, or v unchanged if its norm is
// zero (spec invariant 5: "vectors are unit-norm").
func Normalize(v []float32) []float32 {
	norm := vectorNorm(v)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func vectorNorm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}
