package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// CosineDistance returns 1 - cos(a, b). A zero vector has distance 1 to
// everything. a and b must have equal length.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// rankTopK sorts candidates by ascending distance, keeping the input order
// for ties, and truncates to topK.
func rankTopK(candidates []Match, topK int) []Match {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector reverses encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("store: corrupt vector blob of %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
