package tensor

import (
	"math"
)

// HalfRound passes a float32 through IEEE 754 half precision and back,
// using round-to-nearest-even. The mixed-precision forward path applies it
// to activations so reduced-precision arithmetic is observable on any
// device. Values representable in half precision survive exactly.
func HalfRound(x float32) float32 {
	return halfBitsToFloat32(float32ToHalfBits(x))
}

// HalfRoundSlice rounds src through half precision into dst. dst and src
// may alias.
func HalfRoundSlice(dst, src []float32) {
	for i, x := range src {
		dst[i] = halfBitsToFloat32(float32ToHalfBits(x))
	}
}

func float32ToHalfBits(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	if exp >= 31 {
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	}
	if exp <= 0 {
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return sign | half
	}

	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	rem := mant & 0x1fff
	// rounding carry may overflow into the exponent, saturating to infinity
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return half
}

func halfBitsToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	e := int32(h >> 10 & 0x1f)
	mant := uint32(h & 0x3ff)

	switch {
	case e == 0x1f:
		if mant != 0 {
			return math.Float32frombits(sign | 0x7fc00000)
		}
		return math.Float32frombits(sign | 0x7f800000)
	case e == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		e = 1
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		fallthrough
	default:
		return math.Float32frombits(sign | uint32(e-15+127)<<23 | mant<<13)
	}
}
