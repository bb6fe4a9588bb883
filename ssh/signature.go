// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// signature is the generic "algorithm name + opaque blob" wire format
// a signature takes wherever one appears in the protocol (RFC 4253
// §6.6, RFC 4252 §7): host key signatures in KEX replies and the
// publickey userauth signature. Adapted from certs.go's
// certificate-signature plumbing, trimmed to the parts every key type
// shares; the certificate-specific fields that used to live alongside
// it are gone along with certificate support (see DESIGN.md).
type signature struct {
	Format string
	Blob   []byte
}

func signatureLength(sig *signature) int {
	length := stringLength(len(sig.Format))
	length += stringLength(len(sig.Blob))
	return length
}

func marshalSignature(to []byte, sig *signature) []byte {
	to = marshalString(to, []byte(sig.Format))
	to = marshalString(to, sig.Blob)
	return to
}

// parseSignatureBody parses a signature whose enclosing string
// wrapper has already been stripped (the shape used inside an
// OpenSSH certificate's Signature field, or a raw KEX signature).
func parseSignatureBody(in []byte) (out *signature, rest []byte, ok bool) {
	var format []byte
	if format, in, ok = parseString(in); !ok {
		return
	}

	out = &signature{Format: string(format)}

	if out.Blob, in, ok = parseString(in); !ok {
		return
	}

	return out, in, ok
}

// parseSignature parses a signature still wrapped in its own
// outer string, the shape publickey userauth's signature field uses
// (RFC 4252 §7). Unlike the teacher's certs.go, rest here is the
// bytes following the outer string, not swallowed by recursing into
// parseSignatureBody on the original slice.
func parseSignature(in []byte) (out *signature, rest []byte, ok bool) {
	var sigBytes []byte
	if sigBytes, rest, ok = parseString(in); !ok {
		return
	}
	out, _, ok = parseSignatureBody(sigBytes)
	return out, rest, ok
}

// serializeSignature encodes a signature blob produced by a Signer
// under the wire format's outer string wrapper (RFC 4253 §6.6). The
// name should be a key type's signature algorithm name.
func serializeSignature(name string, sig []byte) []byte {
	length := stringLength(len(name))
	length += stringLength(len(sig))

	ret := make([]byte, length)
	r := marshalString(ret, []byte(name))
	marshalString(r, sig)

	return ret
}

// MarshalPublicKey serializes a key for use by the SSH wire protocol
// (RFC 4253 §6.6). Each PublicKey implementation's own Marshal already
// produces the full wire blob (algorithm name string followed by the
// key material), so this is a thin named entry point for call sites
// that hold a PublicKey rather than a concrete key type.
func MarshalPublicKey(key PublicKey) []byte {
	return key.Marshal()
}
