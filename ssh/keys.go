// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
)

// Host-key and public-key algorithm names, spec.md §4.3.
const (
	KeyAlgoRSA      = "ssh-rsa"
	KeyAlgoDSA      = "ssh-dss"
	KeyAlgoECDSA256 = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384 = "ecdsa-sha2-nistp384"
	KeyAlgoECDSA521 = "ecdsa-sha2-nistp521"
	KeyAlgoED25519  = "ssh-ed25519"
	KeyAlgoRSASHA256 = "rsa-sha2-256"
)

// DefaultHostKeyAlgoOrder extends the teacher's supportedHostKeyAlgos
// (common.go only ever listed ssh-rsa) with ed25519 as the preferred
// default and rsa-sha2-256 as the modern RSA signature scheme,
// keeping legacy ssh-rsa (SHA-1) last for interop (spec.md §4.3).
var DefaultHostKeyAlgoOrder = []string{KeyAlgoED25519, KeyAlgoRSASHA256, KeyAlgoRSA}

// PublicKey is any key usable to verify a signature produced over
// the SSH wire format, the same abstraction client.go's
// verifyHostKeySignature relies on via ParsePublicKey.
type PublicKey interface {
	PublicKeyAlgo() string
	// PrivateKeyAlgo names the corresponding signature algorithm,
	// used as the signature format name in KEX replies (kex.go) and
	// for host-key negotiation, distinguished from PublicKeyAlgo so
	// that certificate algorithm names (not implemented here — see
	// DESIGN.md) could differ from the key's own type.
	PrivateKeyAlgo() string
	Marshal() []byte
	Verify(data []byte, sig []byte) bool
}

// Signer can produce a PublicKey and sign data with the matching
// private key. Host keys and, indirectly, the publickey userauth
// verification path both rely on this shape.
type Signer interface {
	PublicKey() PublicKey
	Sign(rand io.Reader, data []byte) ([]byte, error)
}

type ed25519PublicKey struct {
	key ed25519.PublicKey
}

func (k *ed25519PublicKey) PublicKeyAlgo() string  { return KeyAlgoED25519 }
func (k *ed25519PublicKey) PrivateKeyAlgo() string { return KeyAlgoED25519 }

func (k *ed25519PublicKey) Marshal() []byte {
	length := stringLength(len(KeyAlgoED25519)) + stringLength(len(k.key))
	buf := make([]byte, length)
	r := marshalString(buf, []byte(KeyAlgoED25519))
	marshalString(r, k.key)
	return buf
}

func (k *ed25519PublicKey) Verify(data, sig []byte) bool {
	return ed25519.Verify(k.key, data, sig)
}

type ed25519Signer struct {
	pub  *ed25519PublicKey
	priv ed25519.PrivateKey
}

func (s *ed25519Signer) PublicKey() PublicKey { return s.pub }

func (s *ed25519Signer) Sign(_ io.Reader, data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

type rsaPublicKey struct {
	key *rsa.PublicKey
}

func (k *rsaPublicKey) PublicKeyAlgo() string  { return KeyAlgoRSA }
func (k *rsaPublicKey) PrivateKeyAlgo() string { return KeyAlgoRSA }

func (k *rsaPublicKey) Marshal() []byte {
	e := new(big.Int).SetInt64(int64(k.key.E))
	eLen := intLength(e)
	n := k.key.N
	nLen := intLength(n)
	length := stringLength(len(KeyAlgoRSA)) + eLen + nLen
	buf := make([]byte, length)
	r := marshalString(buf, []byte(KeyAlgoRSA))
	r = marshalInt(r, e)
	marshalInt(r, n)
	return buf
}

// Verify checks sig against data assuming the modern rsa-sha2-256
// algorithm. Callers that negotiated the legacy ssh-rsa (SHA-1)
// signature algorithm must use VerifyWithAlgo instead; the generic
// PublicKey interface only needs one default because publickey
// userauth always carries the algorithm name alongside the key blob
// (see userauth.go), so the mismatch case never reaches this method.
func (k *rsaPublicKey) Verify(data, sig []byte) bool {
	return k.VerifyWithAlgo(data, sig, KeyAlgoRSASHA256)
}

// VerifyWithAlgo verifies an RSA signature produced under the named
// algorithm (rsa-sha2-256 or legacy ssh-rsa/SHA-1), resolving the
// Open Question in spec.md §9 about algorithm/key-type mismatches:
// publickey requests naming an algorithm this key cannot produce are
// rejected rather than silently reinterpreted.
func (k *rsaPublicKey) VerifyWithAlgo(data, sig []byte, algo string) bool {
	switch algo {
	case KeyAlgoRSASHA256:
		return rsa.VerifyPKCS1v15(k.key, crypto.SHA256, hashSHA256(data), sig) == nil
	case KeyAlgoRSA:
		return rsa.VerifyPKCS1v15(k.key, crypto.SHA1, hashSHA1(data), sig) == nil
	default:
		return false
	}
}

func hashSHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func hashSHA1(data []byte) []byte {
	// crypto/sha1 is imported above only for its side-effecting
	// registration of crypto.SHA1; use crypto.SHA1.New directly here
	// rather than calling into the package by name.
	h := crypto.SHA1.New()
	h.Write(data)
	return h.Sum(nil)
}

type rsaSigner struct {
	pub  *rsaPublicKey
	priv *rsa.PrivateKey
	algo string
}

func (s *rsaSigner) PublicKey() PublicKey { return s.pub }

func (s *rsaSigner) Sign(randSrc io.Reader, data []byte) ([]byte, error) {
	switch s.algo {
	case KeyAlgoRSASHA256:
		return rsa.SignPKCS1v15(randSrc, s.priv, crypto.SHA256, hashSHA256(data))
	default:
		return rsa.SignPKCS1v15(randSrc, s.priv, crypto.SHA1, hashSHA1(data))
	}
}

// ParsePublicKey decodes the algorithm-tagged key blob format used
// on the wire (RFC 4253 §6.6), mirroring certs.go's calls into a
// function of this name that this snapshot never shipped.
func ParsePublicKey(in []byte) (out PublicKey, ok bool) {
	k, rest, ok := parsePubKey(in)
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return k, true
}

func parsePubKey(in []byte) (out PublicKey, rest []byte, ok bool) {
	algoBytes, in, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	switch string(algoBytes) {
	case KeyAlgoED25519:
		keyBytes, in, ok := parseString(in)
		if !ok || len(keyBytes) != ed25519.PublicKeySize {
			return nil, nil, false
		}
		return &ed25519PublicKey{key: ed25519.PublicKey(keyBytes)}, in, true
	case KeyAlgoRSA, KeyAlgoRSASHA256:
		eBig, in, ok := parseMPInt(in)
		if !ok {
			return nil, nil, false
		}
		nBig, in, ok := parseMPInt(in)
		if !ok {
			return nil, nil, false
		}
		return &rsaPublicKey{key: &rsa.PublicKey{N: nBig, E: int(eBig.Int64())}}, in, true
	default:
		return nil, nil, false
	}
}

// GenerateEphemeralHostKey creates an ssh-ed25519 Signer, used when
// no ServerConfig.HostKeyBytes were supplied.
func GenerateEphemeralHostKey(randSrc io.Reader) (Signer, error) {
	if randSrc == nil {
		randSrc = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(randSrc)
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{pub: &ed25519PublicKey{key: pub}, priv: priv}, nil
}

// ParseOpenSSHPrivateKey parses the OpenSSH "BEGIN OPENSSH PRIVATE
// KEY" PEM format (spec.md §6 "Persisted state"), accepting only
// unencrypted keys: passphrase-protected keys use bcrypt_pbkdf, which
// is absent from this module's dependency set (see DESIGN.md).
func ParseOpenSSHPrivateKey(pemBytes []byte) (Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "OPENSSH PRIVATE KEY" {
		return nil, errors.New("ssh: not an OpenSSH private key PEM block")
	}
	return parseOpenSSHPrivateKeyBody(block.Bytes)
}

var openSSHMagic = []byte("openssh-key-v1\x00")

func parseOpenSSHPrivateKeyBody(data []byte) (Signer, error) {
	if len(data) < len(openSSHMagic) || string(data[:len(openSSHMagic)]) != string(openSSHMagic) {
		return nil, errors.New("ssh: invalid openssh-key-v1 magic")
	}
	rest := data[len(openSSHMagic):]

	cipherName, rest, ok := parseString(rest)
	if !ok {
		return nil, errors.New("ssh: truncated openssh key")
	}
	kdfName, rest, ok := parseString(rest)
	if !ok {
		return nil, errors.New("ssh: truncated openssh key")
	}
	if string(cipherName) != "none" || string(kdfName) != "none" {
		return nil, errors.New("ssh: encrypted openssh private keys are not supported")
	}
	_, rest, ok = parseString(rest) // kdf options, empty
	if !ok {
		return nil, errors.New("ssh: truncated openssh key")
	}
	numKeys, rest, ok := parseUint32(rest)
	if !ok || numKeys != 1 {
		return nil, errors.New("ssh: expected exactly one key in openssh key file")
	}
	_, rest, ok = parseString(rest) // public key blob, redundant with the private section
	if !ok {
		return nil, errors.New("ssh: truncated openssh key")
	}
	privSection, rest, ok := parseString(rest)
	if !ok || len(rest) != 0 {
		return nil, errors.New("ssh: truncated openssh key")
	}

	if len(privSection) < 8 {
		return nil, errors.New("ssh: truncated private section")
	}
	check1 := binary.BigEndian.Uint32(privSection[0:4])
	check2 := binary.BigEndian.Uint32(privSection[4:8])
	if check1 != check2 {
		return nil, errors.New("ssh: checkint mismatch; wrong passphrase or corrupt key")
	}
	body := privSection[8:]

	typ, body, ok := parseString(body)
	if !ok {
		return nil, errors.New("ssh: truncated key type")
	}
	switch string(typ) {
	case KeyAlgoED25519:
		pub, body, ok := parseString(body)
		if !ok || len(pub) != ed25519.PublicKeySize {
			return nil, errors.New("ssh: malformed ed25519 public key")
		}
		priv, _, ok := parseString(body)
		if !ok || len(priv) != ed25519.PrivateKeySize {
			return nil, errors.New("ssh: malformed ed25519 private key")
		}
		return &ed25519Signer{
			pub:  &ed25519PublicKey{key: ed25519.PublicKey(pub)},
			priv: ed25519.PrivateKey(priv),
		}, nil
	default:
		return nil, errors.New("ssh: unsupported openssh private key type " + string(typ))
	}
}

// ParseRSAPrivateKeyForHostKey builds a Signer from a DER-encoded
// PKCS#1 or PKCS#8 RSA key. ServerConfig has no field that accepts
// the resulting Signer; its host key comes only from HostKeyBytes
// (ed25519) or ephemeral generation.
func ParseRSAPrivateKeyForHostKey(der []byte, algo string) (Signer, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		k, err2 := x509.ParsePKCS8PrivateKey(der)
		if err2 != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("ssh: PKCS8 key is not RSA")
		}
		key = rk
	}
	if algo == "" {
		algo = KeyAlgoRSASHA256
	}
	return &rsaSigner{pub: &rsaPublicKey{key: &key.PublicKey}, priv: key, algo: algo}, nil
}
