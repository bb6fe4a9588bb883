// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"math/big"
	"reflect"
)

// Message numbers, RFC 4250 §4.1 and the RFCs for userauth (4252),
// connection (4254) and the key-exchange methods named in spec.md §4.3.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit  = 20
	msgNewKeys  = 21

	// 30-49 reserved for kex method-specific messages.
	msgKexECDHInit  = 30
	msgKexECDHReply = 31
	msgKexDHInit    = 30
	msgKexDHReply   = 31

	msgUserAuthRequest   = 50
	msgUserAuthFailure   = 51
	msgUserAuthSuccess   = 52
	msgUserAuthBanner    = 53
	msgUserAuthPubKeyOk  = 60

	msgGlobalRequest       = 80
	msgRequestSuccess      = 81
	msgRequestFailure      = 82
	msgChannelOpen         = 90
	msgChannelOpenConfirm  = 91
	msgChannelOpenFailure  = 92
	msgChannelWindowAdjust = 93
	msgChannelData         = 94
	msgChannelExtendedData = 95
	msgChannelEOF          = 96
	msgChannelClose        = 97
	msgChannelRequest      = 98
	msgChannelSuccess      = 99
	msgChannelFailure      = 100
)

// disconnect reason codes, RFC 4253 §11.1.
const (
	DisconnectHostNotAllowedToConnect    = 1
	DisconnectProtocolError              = 2
	DisconnectKeyExchangeFailed          = 3
	DisconnectReserved                   = 4
	DisconnectMACError                   = 5
	DisconnectCompressionError           = 6
	DisconnectServiceNotAvailable        = 7
	DisconnectProtocolVersionNotSupported = 8
	DisconnectHostKeyNotVerifiable       = 9
	DisconnectConnectionLost             = 10
	DisconnectByApplication              = 11
	DisconnectTooManyConnections         = 12
	DisconnectAuthCancelledByUser        = 13
	DisconnectNoMoreAuthMethodsAvailable = 14
	DisconnectIllegalUserName            = 15
)

// channel open failure reasons, RFC 4254 §5.1.
const (
	ChannelOpenAdministrativelyProhibited = 1
	ChannelOpenConnectFailed              = 2
	ChannelOpenUnknownChannelType         = 3
	ChannelOpenResourceShortage           = 4
)

type disconnectMsg struct {
	Reason   uint32
	Message  string
	Language string
}

type ignoreMsg struct {
	Data string
}

type debugMsg struct {
	AlwaysDisplay bool
	Message       string
	Language      string
}

type unimplementedMsg struct {
	SeqNum uint32
}

type serviceRequestMsg struct {
	Service string
}

type serviceAcceptMsg struct {
	Service string
}

type kexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

type kexECDHInitMsg struct {
	ClientPubKey []byte
}

type kexECDHReplyMsg struct {
	HostKey         []byte
	EphemeralPubKey []byte
	Signature       []byte
}

type kexDHInitMsg struct {
	X *big.Int
}

type kexDHReplyMsg struct {
	HostKey   []byte
	Y         *big.Int
	Signature []byte
}

type newKeysMsg struct{}

type userAuthRequestMsg struct {
	User    string
	Service string
	Method  string
	Payload []byte `ssh:"rest"`
}

type userAuthFailureMsg struct {
	Methods        []string
	PartialSuccess bool
}

type userAuthSuccessMsg struct{}

type userAuthBannerMsg struct {
	Message  string
	Language string
}

type userAuthPubKeyOkMsg struct {
	Algo   string
	PubKey []byte
}

type globalRequestMsg struct {
	Type      string
	WantReply bool
	Payload   []byte `ssh:"rest"`
}

type globalRequestSuccessMsg struct {
	Payload []byte `ssh:"rest"`
}

type globalRequestFailureMsg struct {
	Payload []byte `ssh:"rest"`
}

type channelOpenMsg struct {
	ChanType         string
	PeersID          uint32
	PeersWindow      uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh:"rest"`
}

type channelOpenConfirmMsg struct {
	PeersID       uint32
	MyID          uint32
	MyWindow      uint32
	MaxPacketSize uint32
}

type channelOpenFailureMsg struct {
	PeersID  uint32
	Reason   uint32
	Message  string
	Language string
}

type channelWindowAdjustMsg struct {
	PeersID         uint32
	AdditionalBytes uint32
}

type channelDataMsg struct {
	PeersID uint32
	Length  uint32
	Rest    []byte `ssh:"rest"`
}

type channelExtendedDataMsg struct {
	PeersID  uint32
	DataType uint32
	Length   uint32
	Rest     []byte `ssh:"rest"`
}

type channelEOFMsg struct {
	PeersID uint32
}

type channelCloseMsg struct {
	PeersID uint32
}

type channelRequestMsg struct {
	PeersID   uint32
	Request   string
	WantReply bool
	Payload   []byte `ssh:"rest"`
}

type channelRequestSuccessMsg struct {
	PeersID uint32
}

type channelRequestFailureMsg struct {
	PeersID uint32
}

// ptyRequestMsg is the payload of a "pty-req" channel request.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

// windowChangeMsg is the payload of a "window-change" channel request.
type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

// execMsg is the payload of an "exec" channel request.
type execMsg struct {
	Command string
}

// subsystemMsg is the payload of a "subsystem" channel request.
type subsystemMsg struct {
	Subsystem string
}

// exitStatusMsg is the payload of an "exit-status" channel request.
type exitStatusMsg struct {
	Status uint32
}

// envMsg is the payload of an "env" channel request.
type envMsg struct {
	Name  string
	Value string
}

// directTCPIPMsg is the TypeSpecificData of a "direct-tcpip" channel
// open message (RFC 4254 §7.2).
type directTCPIPMsg struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// unmarshalerForType associates each numeric packet type with the
// message struct it decodes to. The key-exchange codes 30/31 are left
// out: the ECDH and classic DH messages share them, so only the
// negotiated kex algorithm can tell them apart, and kex.go decodes
// them directly with unmarshal.
var unmarshalerForType = map[byte]func() interface{}{
	msgDisconnect:          func() interface{} { return new(disconnectMsg) },
	msgIgnore:              func() interface{} { return new(ignoreMsg) },
	msgUnimplemented:       func() interface{} { return new(unimplementedMsg) },
	msgDebug:               func() interface{} { return new(debugMsg) },
	msgServiceRequest:      func() interface{} { return new(serviceRequestMsg) },
	msgServiceAccept:       func() interface{} { return new(serviceAcceptMsg) },
	msgKexInit:             func() interface{} { return new(kexInitMsg) },
	msgNewKeys:             func() interface{} { return new(newKeysMsg) },
	msgUserAuthRequest:     func() interface{} { return new(userAuthRequestMsg) },
	msgUserAuthFailure:     func() interface{} { return new(userAuthFailureMsg) },
	msgUserAuthSuccess:     func() interface{} { return new(userAuthSuccessMsg) },
	msgUserAuthBanner:      func() interface{} { return new(userAuthBannerMsg) },
	msgUserAuthPubKeyOk:    func() interface{} { return new(userAuthPubKeyOkMsg) },
	msgGlobalRequest:       func() interface{} { return new(globalRequestMsg) },
	msgRequestSuccess:      func() interface{} { return new(globalRequestSuccessMsg) },
	msgRequestFailure:      func() interface{} { return new(globalRequestFailureMsg) },
	msgChannelOpen:         func() interface{} { return new(channelOpenMsg) },
	msgChannelOpenConfirm:  func() interface{} { return new(channelOpenConfirmMsg) },
	msgChannelOpenFailure:  func() interface{} { return new(channelOpenFailureMsg) },
	msgChannelWindowAdjust: func() interface{} { return new(channelWindowAdjustMsg) },
	msgChannelData:         func() interface{} { return new(channelDataMsg) },
	msgChannelExtendedData: func() interface{} { return new(channelExtendedDataMsg) },
	msgChannelEOF:          func() interface{} { return new(channelEOFMsg) },
	msgChannelClose:        func() interface{} { return new(channelCloseMsg) },
	msgChannelRequest:      func() interface{} { return new(channelRequestMsg) },
	msgChannelSuccess:      func() interface{} { return new(channelRequestSuccessMsg) },
	msgChannelFailure:      func() interface{} { return new(channelRequestFailureMsg) },
}

// decode turns a raw packet (tag byte + payload) into a typed
// message. An unrecognised tag is not an error: it decodes to
// Unimplemented{code}, per spec.md §4.1, so the transport can answer
// with SSH_MSG_UNIMPLEMENTED instead of tearing down the connection.
func decode(packet []byte) (interface{}, error) {
	if len(packet) == 0 {
		return nil, ParseError{0}
	}
	tag := packet[0]
	mk, ok := unmarshalerForType[tag]
	if !ok {
		return Unimplemented{Code: tag}, nil
	}
	msg := mk()
	if err := unmarshal(msg, packet, tag); err != nil {
		return nil, err
	}
	return msg, nil
}

// Unimplemented represents a message carrying a numeric code this
// codec has no typed decoder for. It is a normal decode outcome, not
// an error (spec.md §4.1).
type Unimplemented struct {
	Code byte
}

// marshal encodes msg, prefixed by the given message tag, using the
// struct field order of msg's underlying type. Supported field kinds
// are bool, uint32, uint64, string, []byte, []string, *big.Int,
// [16]byte and a trailing field tagged `ssh:"rest"` which receives or
// contributes raw, already-encoded bytes.
func marshal(tag byte, msg interface{}) []byte {
	out := []byte{tag}
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	for i := 0; i < v.NumField(); i++ {
		out = marshalField(out, v.Field(i), v.Type().Field(i))
	}
	return out
}

func marshalField(out []byte, f reflect.Value, sf reflect.StructField) []byte {
	if sf.Tag.Get("ssh") == "rest" {
		return append(out, f.Bytes()...)
	}
	switch f.Kind() {
	case reflect.Bool:
		if f.Bool() {
			return append(out, 1)
		}
		return append(out, 0)
	case reflect.Uint32:
		var b [4]byte
		marshalUint32(b[:], uint32(f.Uint()))
		return append(out, b[:]...)
	case reflect.Uint64:
		var b [8]byte
		marshalUint64(b[:], f.Uint())
		return append(out, b[:]...)
	case reflect.String:
		return appendString(out, f.String())
	case reflect.Slice:
		switch e := f.Type().Elem(); e.Kind() {
		case reflect.Uint8:
			return appendString(out, string(f.Bytes()))
		case reflect.String:
			list := make([]string, f.Len())
			for i := range list {
				list[i] = f.Index(i).String()
			}
			return appendString(out, joinNames(list))
		}
	case reflect.Array:
		if f.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, f.Len())
			reflect.Copy(reflect.ValueOf(b), f)
			return append(out, b...)
		}
	case reflect.Ptr:
		if n, ok := f.Interface().(*big.Int); ok {
			length := intLength(n)
			buf := make([]byte, length)
			marshalInt(buf, n)
			return append(out, buf...)
		}
	}
	panic(fmt.Sprintf("ssh: unsupported field kind %v for %s", f.Kind(), sf.Name))
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func appendString(out []byte, s string) []byte {
	var l [4]byte
	marshalUint32(l[:], uint32(len(s)))
	out = append(out, l[:]...)
	return append(out, s...)
}

// unmarshal decodes packet (which must begin with the expected tag
// byte) into msg, field by field, mirroring marshal's field order.
func unmarshal(msg interface{}, packet []byte, expectedTag byte) error {
	if len(packet) == 0 || packet[0] != expectedTag {
		got := byte(0)
		if len(packet) > 0 {
			got = packet[0]
		}
		return UnexpectedMessageError{expectedTag, got}
	}
	rest := packet[1:]
	v := reflect.ValueOf(msg).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		sf := v.Type().Field(i)
		var ok bool
		rest, ok = unmarshalField(f, sf, rest)
		if !ok {
			return ParseError{expectedTag}
		}
	}
	if len(rest) != 0 {
		return ParseError{expectedTag}
	}
	return nil
}

func unmarshalField(f reflect.Value, sf reflect.StructField, rest []byte) ([]byte, bool) {
	if sf.Tag.Get("ssh") == "rest" {
		f.SetBytes(append([]byte{}, rest...))
		return nil, true
	}
	switch f.Kind() {
	case reflect.Bool:
		var b bool
		var ok bool
		b, rest, ok = parseBool(rest)
		f.SetBool(b)
		return rest, ok
	case reflect.Uint32:
		var n uint32
		var ok bool
		n, rest, ok = parseUint32(rest)
		f.SetUint(uint64(n))
		return rest, ok
	case reflect.Uint64:
		var n uint64
		var ok bool
		n, rest, ok = parseUint64(rest)
		f.SetUint(n)
		return rest, ok
	case reflect.String:
		var s []byte
		var ok bool
		s, rest, ok = parseString(rest)
		f.SetString(string(s))
		return rest, ok
	case reflect.Slice:
		switch e := f.Type().Elem(); e.Kind() {
		case reflect.Uint8:
			var s []byte
			var ok bool
			s, rest, ok = parseString(rest)
			f.SetBytes(append([]byte{}, s...))
			return rest, ok
		case reflect.String:
			list, r, ok := parseNameList(rest)
			if !ok {
				return nil, false
			}
			f.Set(reflect.ValueOf(list))
			return r, true
		}
	case reflect.Array:
		if f.Type().Elem().Kind() == reflect.Uint8 {
			n := f.Len()
			if len(rest) < n {
				return nil, false
			}
			reflect.Copy(f, reflect.ValueOf(rest[:n]))
			return rest[n:], true
		}
	case reflect.Ptr:
		if f.Type() == reflect.TypeOf((*big.Int)(nil)) {
			n, r, ok := parseMPInt(rest)
			if !ok {
				return nil, false
			}
			f.Set(reflect.ValueOf(n))
			return r, true
		}
	}
	return nil, false
}
