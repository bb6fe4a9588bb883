// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// KEX algorithm names, spec.md §4.3.
const (
	kexAlgoCurve25519SHA256       = "curve25519-sha256"
	kexAlgoCurve25519SHA256LibSSH = "curve25519-sha256@libssh.org"
	kexAlgoDH14SHA256             = "diffie-hellman-group14-sha256"
	kexAlgoDH14SHA1               = "diffie-hellman-group14-sha1"
)

// defaultKeyExchangeOrder extends the teacher's supportedKexAlgos
// (common.go) with the curve25519 and SHA-256 group-14 methods the
// modern protocol prefers; the legacy SHA-1 group-14 method stays
// registered for interop but sorts last.
var defaultKeyExchangeOrder = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoCurve25519SHA256LibSSH,
	kexAlgoDH14SHA256,
	kexAlgoDH14SHA1,
}

// kexResult captures the outcome of a key exchange, identical in
// shape to the teacher's client.go kexResult.
type kexResult struct {
	H         []byte
	K         []byte
	HostKey   []byte
	Signature []byte
	Hash      crypto.Hash
}

// serverKEX performs one key exchange as the server side (the role
// spec.md requires; the teacher only ever implemented the client
// side of kexECDH/kexDH). It reads the client's init message, replies
// with a signed KEX reply, and returns the derived secret and
// exchange hash H (spec.md §4.4 step 3).
func serverKEX(t *framer, kexAlgo string, magics *handshakeMagics, hostKey Signer, randSrc io.Reader) (*kexResult, error) {
	switch kexAlgo {
	case kexAlgoCurve25519SHA256, kexAlgoCurve25519SHA256LibSSH:
		return serverCurve25519KEX(t, magics, hostKey, randSrc)
	case kexAlgoDH14SHA256:
		dhGroup14Once.Do(initDHGroup14)
		return serverDHKEX(t, crypto.SHA256, dhGroup14, magics, hostKey, randSrc)
	case kexAlgoDH14SHA1:
		dhGroup14Once.Do(initDHGroup14)
		return serverDHKEX(t, crypto.SHA1, dhGroup14, magics, hostKey, randSrc)
	default:
		return nil, errors.New("ssh: unsupported key exchange algorithm " + kexAlgo)
	}
}

// serverCurve25519KEX mirrors the teacher's kexECDH but plays the
// server role: it waits for KEX_ECDH_INIT, generates its own
// ephemeral key, computes the shared secret, and signs H with the
// host key (RFC 5656 analogue used by OpenSSH for curve25519).
func serverCurve25519KEX(t *framer, magics *handshakeMagics, hostKey Signer, randSrc io.Reader) (*kexResult, error) {
	packet, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	var init kexECDHInitMsg
	if err := unmarshal(&init, packet, msgKexECDHInit); err != nil {
		return nil, err
	}
	if len(init.ClientPubKey) != 32 {
		return nil, errors.New("ssh: invalid curve25519 public value")
	}

	var serverPriv, serverPub [32]byte
	if _, err := io.ReadFull(randSrc, serverPriv[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&serverPub, &serverPriv)

	var clientPub [32]byte
	copy(clientPub[:], init.ClientPubKey)
	var secret [32]byte
	curve25519.ScalarMult(&secret, &serverPriv, &clientPub)
	if isAllZero(secret[:]) {
		return nil, errors.New("ssh: curve25519 produced a low-order point")
	}

	hostKeyBytes := MarshalPublicKey(hostKey.PublicKey())

	h := sha256.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, hostKeyBytes)
	writeString(h, init.ClientPubKey)
	writeString(h, serverPub[:])
	K := new(big.Int).SetBytes(secret[:])
	writeInt(h, K)
	H := h.Sum(nil)

	sig, err := hostKey.Sign(randSrc, H)
	if err != nil {
		return nil, err
	}

	reply := kexECDHReplyMsg{
		HostKey:         hostKeyBytes,
		EphemeralPubKey: serverPub[:],
		Signature:       serializeSignature(hostKey.PublicKey().PrivateKeyAlgo(), sig),
	}
	if err := t.writePacket(marshal(msgKexECDHReply, reply)); err != nil {
		return nil, err
	}

	return &kexResult{H: H, K: intBytesForSecret(K), HostKey: hostKeyBytes, Signature: reply.Signature, Hash: crypto.SHA256}, nil
}

// serverDHKEX mirrors the teacher's kexDH for the classic
// diffie-hellman-group14 family, swapped to the server role.
func serverDHKEX(t *framer, hashFunc crypto.Hash, group *dhGroup, magics *handshakeMagics, hostKey Signer, randSrc io.Reader) (*kexResult, error) {
	packet, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	var init kexDHInitMsg
	if err := unmarshal(&init, packet, msgKexDHInit); err != nil {
		return nil, err
	}

	y, err := rand.Int(randSrc, group.p)
	if err != nil {
		return nil, err
	}
	Y := new(big.Int).Exp(group.g, y, group.p)

	kInt, err := group.diffieHellman(init.X, y)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := MarshalPublicKey(hostKey.PublicKey())

	h := hashFunc.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, hostKeyBytes)
	writeInt(h, init.X)
	writeInt(h, Y)
	writeInt(h, kInt)
	H := h.Sum(nil)

	sig, err := hostKey.Sign(randSrc, H)
	if err != nil {
		return nil, err
	}

	reply := kexDHReplyMsg{
		HostKey:   hostKeyBytes,
		Y:         Y,
		Signature: serializeSignature(hostKey.PublicKey().PrivateKeyAlgo(), sig),
	}
	if err := t.writePacket(marshal(msgKexDHReply, reply)); err != nil {
		return nil, err
	}

	return &kexResult{H: H, K: intBytesForSecret(kInt), HostKey: hostKeyBytes, Signature: reply.Signature, Hash: hashFunc}, nil
}

func intBytesForSecret(n *big.Int) []byte {
	buf := make([]byte, intLength(n))
	marshalInt(buf, n)
	return buf
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
