// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"
)

func TestParseUint32RoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 0xffffffff, 1 << 16} {
		var buf [4]byte
		marshalUint32(buf[:], n)
		got, rest, ok := parseUint32(buf[:])
		if !ok || got != n || len(rest) != 0 {
			t.Fatalf("uint32 %d: got %d ok=%v rest=%d", n, got, ok, len(rest))
		}
	}
}

func TestParseStringTruncated(t *testing.T) {
	// length header claims more bytes than are present.
	buf := []byte{0, 0, 0, 10, 'a', 'b'}
	if _, _, ok := parseString(buf); ok {
		t.Fatal("expected truncated string to fail")
	}
}

func TestParseNameList(t *testing.T) {
	in := []byte("diffie-hellman-group14-sha256,curve25519-sha256")
	var buf [4]byte
	marshalUint32(buf[:], uint32(len(in)))
	packet := append(buf[:], in...)

	list, rest, ok := parseNameList(packet)
	if !ok || len(rest) != 0 {
		t.Fatalf("parseNameList failed: ok=%v rest=%d", ok, len(rest))
	}
	want := []string{"diffie-hellman-group14-sha256", "curve25519-sha256"}
	if !reflect.DeepEqual(list, want) {
		t.Fatalf("got %v want %v", list, want)
	}
}

func TestParseNameListEmpty(t *testing.T) {
	packet := []byte{0, 0, 0, 0}
	list, rest, ok := parseNameList(packet)
	if !ok || len(rest) != 0 || list != nil {
		t.Fatalf("empty name-list: list=%v rest=%d ok=%v", list, len(rest), ok)
	}
}

// mpintCases covers the edge values spec.md §8 calls out: 0, -1,
// 2^255-19, 2^32-1, and arbitrary large positive/negative values.
func mpintCases() []*big.Int {
	c25519Prime := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))
	big32 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1))
	huge := new(big.Int).Lsh(big.NewInt(1), 4096)
	return []*big.Int{
		big.NewInt(0),
		big.NewInt(-1),
		big.NewInt(1),
		c25519Prime,
		big32,
		huge,
		new(big.Int).Neg(huge),
		big.NewInt(127),
		big.NewInt(128), // needs leading 0x00 disambiguation byte
		big.NewInt(-128),
	}
}

func TestMPIntRoundTrip(t *testing.T) {
	for _, n := range mpintCases() {
		length := intLength(n)
		buf := make([]byte, length)
		marshalInt(buf, n)

		got, rest, ok := parseMPInt(buf)
		if !ok {
			t.Fatalf("parseMPInt(%v) failed to parse its own marshaled form", n)
		}
		if len(rest) != 0 {
			t.Fatalf("parseMPInt(%v): %d unexpected trailing bytes", n, len(rest))
		}
		if got.Cmp(n) != 0 {
			t.Fatalf("round trip mismatch: got %v want %v", got, n)
		}
	}
}

func TestMPIntRejectsNonMinimalEncoding(t *testing.T) {
	// A leading 0x00 is only legal when the following byte's high bit
	// is set; here it is not, so this is a non-minimal encoding.
	bad := []byte{0, 0, 0, 2, 0x00, 0x01}
	if _, _, ok := parseMPInt(bad); ok {
		t.Fatal("expected non-minimal mpint to be rejected")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []struct {
		tag byte
		msg interface{}
	}{
		{msgDisconnect, &disconnectMsg{Reason: DisconnectProtocolError, Message: "bye", Language: "en"}},
		{msgDisconnect, &disconnectMsg{Reason: 0, Message: "", Language: ""}},
		{msgIgnore, &ignoreMsg{Data: "filler"}},
		{msgNewKeys, &newKeysMsg{}},
		{msgUserAuthFailure, &userAuthFailureMsg{Methods: []string{"password", "publickey"}, PartialSuccess: false}},
		{msgUserAuthSuccess, &userAuthSuccessMsg{}},
		{msgChannelOpenConfirm, &channelOpenConfirmMsg{PeersID: 1, MyID: 2, MyWindow: 1 << 20, MaxPacketSize: 1 << 15}},
		{msgChannelWindowAdjust, &channelWindowAdjustMsg{PeersID: 9, AdditionalBytes: 65536}},
		{
			msgKexInit,
			&kexInitMsg{
				KexAlgos:                []string{"curve25519-sha256"},
				ServerHostKeyAlgos:      []string{"ssh-ed25519"},
				CiphersClientServer:     []string{"aes256-ctr"},
				CiphersServerClient:     []string{"aes256-ctr"},
				MACsClientServer:        []string{"hmac-sha2-256"},
				MACsServerClient:        []string{"hmac-sha2-256"},
				CompressionClientServer: []string{"none"},
				CompressionServerClient: []string{"none"},
			},
		},
	}

	for _, c := range cases {
		encoded := marshal(c.tag, c.msg)
		decoded, err := decode(encoded)
		if err != nil {
			t.Fatalf("decode(%T) failed: %v", c.msg, err)
		}
		if !reflect.DeepEqual(decoded, c.msg) {
			t.Fatalf("round trip mismatch for %T:\n got  %#v\n want %#v", c.msg, decoded, c.msg)
		}
	}
}

func TestDecodeUnknownTagIsUnimplemented(t *testing.T) {
	// Tag 255 has no registered decoder.
	decoded, err := decode([]byte{255, 1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, ok := decoded.(Unimplemented)
	if !ok || u.Code != 255 {
		t.Fatalf("expected Unimplemented{255}, got %#v", decoded)
	}
}

func TestDecodeEmptyPacketIsError(t *testing.T) {
	if _, err := decode(nil); err == nil {
		t.Fatal("expected error decoding an empty packet")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	padded := append(marshal(msgNewKeys, &newKeysMsg{}), 0xff)
	if _, err := decode(padded); err == nil {
		t.Fatal("expected trailing bytes after a fixed-shape message to be rejected")
	}

	kex := marshal(msgKexInit, &kexInitMsg{
		KexAlgos:                []string{"curve25519-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes256-ctr"},
		CiphersServerClient:     []string{"aes256-ctr"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	})
	kex = append(kex, 0x00)
	if _, err := decode(kex); err == nil {
		t.Fatal("expected trailing bytes after a kexInitMsg to be rejected")
	}

	dis := append(marshal(msgDisconnect, &disconnectMsg{Reason: DisconnectProtocolError, Message: "bye", Language: "en"}), 0x01, 0x02)
	if _, err := decode(dis); err == nil {
		t.Fatal("expected trailing bytes after a disconnectMsg to be rejected")
	}
}

func TestUnmarshalWrongTagIsError(t *testing.T) {
	encoded := marshal(msgNewKeys, &newKeysMsg{})
	var m disconnectMsg
	if err := unmarshal(&m, encoded, msgDisconnect); err == nil {
		t.Fatal("expected unmarshal to reject a message with the wrong tag")
	}
}

func TestAppendStringRoundTrip(t *testing.T) {
	out := appendString(nil, "hello")
	got, rest, ok := parseString(out)
	if !ok || string(got) != "hello" || len(rest) != 0 {
		t.Fatalf("appendString round trip failed: got=%q rest=%d ok=%v", got, len(rest), ok)
	}
}

func TestWriteStringMatchesMarshalString(t *testing.T) {
	var a bytes.Buffer
	writeString(&a, []byte("session"))

	buf := make([]byte, stringLength(len("session")))
	marshalString(buf, []byte("session"))

	if !bytes.Equal(a.Bytes(), buf) {
		t.Fatalf("writeString diverged from marshalString: %x vs %x", a.Bytes(), buf)
	}
}
