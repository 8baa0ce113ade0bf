package export

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloats packs values as little endian float32, the storage format
// of spectra in the databases.
func EncodeFloats(values []float64) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(v)))
	}
	return b
}

func DecodeFloats(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob of %d bytes is not a float32 array", len(b))
	}
	values := make([]float64, len(b)/4)
	for i := range values {
		values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return values, nil
}
