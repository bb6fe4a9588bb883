// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"math/big"
)

// This file holds the low-level SSH binary primitives described in
// RFC 4251 §5: byte, boolean, uint32, uint64, string, mpint and
// name-list. Every parseX function returns the decoded value, the
// remaining bytes and a success flag rather than an error, the same
// calling convention the teacher's common.go used throughout.

func parseBool(in []byte) (bool, []byte, bool) {
	if len(in) < 1 {
		return false, nil, false
	}
	return in[0] != 0, in[1:], true
}

func parseUint32(in []byte) (uint32, []byte, bool) {
	if len(in) < 4 {
		return 0, nil, false
	}
	v := uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3])
	return v, in[4:], true
}

func parseUint64(in []byte) (uint64, []byte, bool) {
	if len(in) < 8 {
		return 0, nil, false
	}
	v := uint64(0)
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(in[i])
	}
	return v, in[8:], true
}

func parseString(in []byte) ([]byte, []byte, bool) {
	length, rest, ok := parseUint32(in)
	if !ok || uint64(len(rest)) < uint64(length) {
		return nil, nil, false
	}
	return rest[:length], rest[length:], true
}

// parseNameList decodes a comma-separated name-list encoded as a
// single SSH string (RFC 4251 §5 "name-list").
func parseNameList(in []byte) ([]string, []byte, bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	if len(contents) == 0 {
		return nil, rest, true
	}
	var out []string
	start := 0
	for i, c := range contents {
		if c == ',' {
			out = append(out, string(contents[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(contents[start:]))
	return out, rest, true
}

// parseMPInt decodes an mpint (RFC 4251 §5) rejecting non-minimal
// encodings: a leading 0x00 byte is only legal when the following
// byte has its high bit set.
func parseMPInt(in []byte) (*big.Int, []byte, bool) {
	data, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	if len(data) > 1 && data[0] == 0 && data[1]&0x80 == 0 {
		return nil, nil, false
	}
	neg := len(data) > 0 && data[0]&0x80 != 0
	n := new(big.Int).SetBytes(data)
	if neg {
		// Two's complement: n currently holds the magnitude of the
		// raw bytes; recover the signed value.
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(data)*8)))
	}
	return n, rest, true
}

func marshalUint32(to []byte, n uint32) []byte {
	to[0] = byte(n >> 24)
	to[1] = byte(n >> 16)
	to[2] = byte(n >> 8)
	to[3] = byte(n)
	return to[4:]
}

func marshalUint64(to []byte, n uint64) []byte {
	to = marshalUint32(to, uint32(n>>32))
	return marshalUint32(to, uint32(n))
}

func marshalString(to []byte, s []byte) []byte {
	to = marshalUint32(to, uint32(len(s)))
	n := copy(to, s)
	return to[n:]
}

func stringLength(n int) int {
	return 4 + n
}

// intLength returns the wire length of n encoded as an mpint,
// including the 0x00 sign-disambiguation byte when required.
func intLength(n *big.Int) int {
	length := 4 // length bytes
	if n.Sign() < 0 {
		// Two's complement of n needs one bit more than |n|-1 has.
		nMinus1 := new(big.Int).Neg(n)
		nMinus1.Sub(nMinus1, big.NewInt(1))
		length += nMinus1.BitLen()/8 + 1
	} else if n.Sign() == 0 {
		length += 0
	} else {
		length += (n.BitLen() + 8) / 8
	}
	return length
}

func marshalInt(to []byte, n *big.Int) []byte {
	lengthBytes := to
	to = to[4:]
	length := 0

	if n.Sign() < 0 {
		// TODO(agl): we can remove this allocation by reimplementing
		// n.Bytes() to add a leading 0 byte if the top bit is set.
		bytes := n.Bytes()
		for i := range bytes {
			bytes[i] ^= 0xff
		}
		for i := len(bytes) - 1; i >= 0; i-- {
			bytes[i]++
			if bytes[i] != 0 {
				break
			}
		}
		if len(bytes) == 0 || bytes[0]&0x80 == 0 {
			to[0] = 0xff
			to = to[1:]
			length++
		}
		nBytes := copy(to, bytes)
		to = to[nBytes:]
		length += nBytes
	} else if n.Sign() == 0 {
		// nothing
	} else {
		bytes := n.Bytes()
		if len(bytes) > 0 && bytes[0]&0x80 != 0 {
			to[0] = 0
			to = to[1:]
			length++
		}
		nBytes := copy(to, bytes)
		to = to[nBytes:]
		length += nBytes
	}

	marshalUint32(lengthBytes, uint32(length))
	return to
}

// writeString and writeInt mirror marshalString/marshalInt but write
// directly into a hash.Hash as used by the key-exchange hash
// computation (see kex.go).
type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeString(w byteWriter, s []byte) {
	var lengthBytes [4]byte
	lengthBytes[0] = byte(len(s) >> 24)
	lengthBytes[1] = byte(len(s) >> 16)
	lengthBytes[2] = byte(len(s) >> 8)
	lengthBytes[3] = byte(len(s))
	w.Write(lengthBytes[:])
	w.Write(s)
}

func writeInt(w byteWriter, n *big.Int) {
	length := intLength(n)
	buf := make([]byte, length)
	marshalInt(buf, n)
	w.Write(buf)
}
