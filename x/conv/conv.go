// Package conv holds allocation-free byte formatters for bus traces. No
// fmt/strconv dependency so it stays cheap on TinyGo targets.
package conv

const hexd = "0123456789ABCDEF"

// AppendHexByte appends b as two uppercase hex digits.
func AppendHexByte(dst []byte, b byte) []byte {
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

// AppendAddr appends a 7-bit address with direction bit as "XX/r" or "XX/w",
// where XX is the 7-bit address in hex and the suffix is the wire direction.
func AppendAddr(dst []byte, wire byte) []byte {
	dst = AppendHexByte(dst, wire>>1)
	if wire&1 != 0 {
		return append(dst, '/', 'r')
	}
	return append(dst, '/', 'w')
}
