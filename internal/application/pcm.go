package application

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 clamps x to [-1, 1] and scales negative values by 32768 and
// positive values by 32767, so both ends of the int16 range are reachable.
func FloatToInt16(x float32) int16 {
	if math.IsNaN(float64(x)) {
		return 0
	}
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	if x < 0 {
		return int16(x * 32768)
	}
	return int16(x * 32767)
}

// EncodePCM16 converts a float32 block to little-endian signed 16-bit PCM.
func EncodePCM16(block []float32) []byte {
	out := make([]byte, len(block)*2)
	for i, x := range block {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(x)))
	}
	return out
}
