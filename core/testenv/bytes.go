package testenv

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/stretchr/testify/assert"
)

// BytesFromHex converts a hexadecimal string to a byte slice.
// The octets must be written as upper case.
// All characters other than [0-9A-F] are considered comments and stripped.
func BytesFromHex(input string) []byte {
	s := strings.Map(func(ch rune) rune {
		if strings.ContainsRune("0123456789ABCDEF", ch) {
			return ch
		}
		return -1
	}, input)
	decoded, e := hex.DecodeString(s)
	if e != nil {
		panic(fmt.Errorf("hex.DecodeString error %w", e))
	}
	return decoded
}

// BytesEqual asserts that actual bytes equals expected bytes.
// It considers nil slice and zero-length slice to be the same.
func BytesEqual(a *assert.Assertions, expected, actual []byte, msgAndArgs ...any) bool {
	if len(expected) == 0 && len(actual) == 0 {
		return true
	}
	return a.Equal(expected, actual, msgAndArgs...)
}

// TSPackets makes n transport stream packets on a PID.
// Each packet starts with the sync byte, carries a 4-bit continuity counter,
// and its payload is filled with the low octet of its sequence number.
func TSPackets(pid uint16, n int) []byte {
	b := make([]byte, 188*n)
	for i := 0; i < n; i++ {
		pkt := b[188*i : 188*(i+1)]
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | byte(i&0x0F)
		for j := 4; j < 188; j++ {
			pkt[j] = byte(i)
		}
	}
	return b
}
