// Package digest computes MD5 digests, bit-exact with RFC 1321, and
// renders them in the lowercase hex form the wire protocol requires.
//
// The algorithm is implemented directly rather than delegated to
// crypto/md5: the reproducibility of these exact bytes across platforms
// is part of what this server promises its clients, so the round
// constants and bit rotations live here where they can be read and
// verified against the RFC.
package digest

import "encoding/binary"

// initial register state, RFC 1321 §3.3.
const (
	a0 = 0x67452301
	b0 = 0xefcdab89
	c0 = 0x98badcfe
	d0 = 0x10325476
)

// per-round left-rotation amounts, RFC 1321 §3.4.
var s = [64]uint32{
	7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22,
	5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20,
	4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23,
	6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21,
}

// per-round additive constants, K[i] = floor(abs(sin(i+1)) * 2^32), RFC 1321 §3.4.
var k = [64]uint32{
	0xd76aa478, 0xe8c7b756, 0x242070db, 0xc1bdceee,
	0xf57c0faf, 0x4787c62a, 0xa8304613, 0xfd469501,
	0x698098d8, 0x8b44f7af, 0xffff5bb1, 0x895cd7be,
	0x6b901122, 0xfd987193, 0xa679438e, 0x49b40821,
	0xf61e2562, 0xc040b340, 0x265e5a51, 0xe9b6c7aa,
	0xd62f105d, 0x02441453, 0xd8a1e681, 0xe7d3fbc8,
	0x21e1cde6, 0xc33707d6, 0xf4d50d87, 0x455a14ed,
	0xa9e3e905, 0xfcefa3f8, 0x676f02d9, 0x8d2a4c8a,
	0xfffa3942, 0x8771f681, 0x6d9d6122, 0xfde5380c,
	0xa4beea44, 0x4bdecfa9, 0xf6bb4b60, 0xbebfbc70,
	0x289b7ec6, 0xeaa127fa, 0xd4ef3085, 0x04881d05,
	0xd9d4d039, 0xe6db99e5, 0x1fa27cf8, 0xc4ac5665,
	0xf4292244, 0x432aff97, 0xab9423a7, 0xfc93a039,
	0x655b59c3, 0x8f0ccc92, 0xffeff47d, 0x85845dd1,
	0x6fa87e4f, 0xfe2ce6e0, 0xa3014314, 0x4e0811a1,
	0xf7537e82, 0xbd3af235, 0x2ad7d2bb, 0xeb86d391,
}

// Size is the length in bytes of an MD5 checksum.
const Size = 16

// BlockSize is the block size, in bytes, of the MD5 hash function.
const BlockSize = 64

// Sum returns the 16-byte MD5 digest of data.
func Sum(data []byte) [Size]byte {
	a, b, c, d := uint32(a0), uint32(b0), uint32(c0), uint32(d0)

	for _, block := range blocks(data) {
		aa, bb, cc, dd := a, b, c, d

		var m [16]uint32
		for i := range m {
			m[i] = binary.LittleEndian.Uint32(block[i*4:])
		}

		for i := 0; i < 64; i++ {
			var f uint32
			var g int
			switch {
			case i < 16:
				f = (bb & cc) | (^bb & dd)
				g = i
			case i < 32:
				f = (dd & bb) | (^dd & cc)
				g = (5*i + 1) % 16
			case i < 48:
				f = bb ^ cc ^ dd
				g = (3*i + 5) % 16
			default:
				f = cc ^ (bb | ^dd)
				g = (7 * i) % 16
			}
			f += aa + k[i] + m[g]
			aa, dd, cc = dd, cc, bb
			bb += rotl(f, s[i])
		}

		a += aa
		b += bb
		c += cc
		d += dd
	}

	var out [Size]byte
	binary.LittleEndian.PutUint32(out[0:], a)
	binary.LittleEndian.PutUint32(out[4:], b)
	binary.LittleEndian.PutUint32(out[8:], c)
	binary.LittleEndian.PutUint32(out[12:], d)
	return out
}

// Hex returns the 32-character lowercase hex rendering of the MD5 digest
// of data — the wire payload this server sends clients on a cache miss.
func Hex(data []byte) string {
	sum := Sum(data)
	const hextable = "0123456789abcdef"
	var out [Size * 2]byte
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out[:])
}

func rotl(x, n uint32) uint32 {
	return (x << n) | (x >> (32 - n))
}

// blocks pads data per RFC 1321 §3.1 (a single 0x80 byte, zeros to 56 mod
// 64, then the 64-bit little-endian bit length) and splits it into
// 64-byte blocks.
func blocks(data []byte) [][BlockSize]byte {
	bitLen := uint64(len(data)) * 8

	padded := make([]byte, len(data), len(data)+BlockSize*2)
	copy(padded, data)
	padded = append(padded, 0x80)
	for len(padded)%BlockSize != 56 {
		padded = append(padded, 0x00)
	}
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], bitLen)
	padded = append(padded, lenBytes[:]...)

	out := make([][BlockSize]byte, len(padded)/BlockSize)
	for i := range out {
		copy(out[i][:], padded[i*BlockSize:(i+1)*BlockSize])
	}
	return out
}
