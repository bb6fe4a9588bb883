// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// serverVersion is the default identification string sent by this
// library, spec.md §6: "SSH-2.0-ssssh_<version>". The teacher's
// client.go has the client-side analogue, `clientVersion`.
var serverVersion = []byte("SSH-2.0-ssssh_1.0")

const maxPacketLength = 1 << 35

// clearCipher is the identity packetCipher used before NEWKEYS: no
// encryption, no MAC. Giving the pre-KEX phase the same packetCipher
// shape as every later phase keeps framer.readPacket/writePacket
// branch-free, mirroring the teacher's uniform `transport.reader` /
// `transport.writer` fields.
type clearCipher struct{}

func (clearCipher) open(_ uint32, ciphertext []byte) ([]byte, error) { return ciphertext, nil }
func (clearCipher) seal(_ uint32, packet []byte) ([]byte, error)     { return packet, nil }
func (clearCipher) keySize() int                                     { return 0 }
func (clearCipher) ivSize() int                                      { return 0 }
func (clearCipher) isAEAD() bool                                     { return false }
func (clearCipher) blockSize() int                                   { return 8 }

// framer implements the packet framer of spec.md §4.2: one SSH binary
// packet per read/write, honoring whatever cipher is currently
// installed for that direction.
type framer struct {
	conn net.Conn
	br   *bufio.Reader

	readSeq, writeSeq uint32
	readCipher        packetCipher
	writeCipher       packetCipher

	rand io.Reader
}

func newFramer(conn net.Conn, randSrc io.Reader) *framer {
	if randSrc == nil {
		randSrc = rand.Reader
	}
	return &framer{
		conn:        conn,
		br:          bufio.NewReader(conn),
		readCipher:  clearCipher{},
		writeCipher: clearCipher{},
		rand:        randSrc,
	}
}

// writePacket assembles padding_length + payload + padding, seals it
// through the active write cipher, and writes the result, spec.md
// §4.2 "Send".
func (f *framer) writePacket(payload []byte) error {
	if f.writeCipher.isAEAD() {
		return f.writeAEADPacket(payload)
	}
	bs := f.writeCipher.blockSize()
	if bs < 8 {
		bs = 8
	}
	// packet_length(4) + padding_length(1) + payload + padding must
	// be a multiple of bs, with padding >= 4.
	padding := bs - (5+len(payload))%bs
	if padding < 4 {
		padding += bs
	}
	packetLength := 1 + len(payload) + padding
	packet := make([]byte, 4+packetLength)
	marshalUint32(packet, uint32(packetLength))
	packet[4] = byte(padding)
	copy(packet[5:], payload)
	if _, err := io.ReadFull(f.rand, packet[5+len(payload):]); err != nil {
		return err
	}

	sealed, err := f.writeCipher.seal(f.writeSeq, packet)
	if err != nil {
		return err
	}
	f.writeSeq++
	_, err = f.conn.Write(sealed)
	return err
}

// writeAEADPacket handles chacha20-poly1305@openssh.com: padding_length
// and payload are sealed together (the AEAD tag covers them), while
// the 4-byte length prefix is encrypted separately with the
// dedicated length stream cipher and sent in the clear position.
func (f *framer) writeAEADPacket(payload []byte) error {
	s, ok := f.writeCipher.(*aeadCipherSuite)
	if !ok {
		return errors.New("ssh: AEAD write without AEAD cipher")
	}
	bs := 8
	padding := bs - (1+len(payload))%bs
	if padding < 4 {
		padding += bs
	}
	inner := make([]byte, 1+len(payload)+padding)
	inner[0] = byte(padding)
	copy(inner[1:], payload)
	if _, err := io.ReadFull(f.rand, inner[1+len(payload):]); err != nil {
		return err
	}

	var lenBytes [4]byte
	marshalUint32(lenBytes[:], uint32(len(inner)))
	lenCipher, err := newLengthCipher(s.lengthKey[:], f.writeSeq)
	if err != nil {
		return err
	}
	var encLen [4]byte
	lenCipher.XORKeyStream(encLen[:], lenBytes[:])

	sealed, err := s.seal(f.writeSeq, inner)
	if err != nil {
		return err
	}
	f.writeSeq++
	if _, err := f.conn.Write(encLen[:]); err != nil {
		return err
	}
	_, err = f.conn.Write(sealed)
	return err
}

// readPacket reads and authenticates one packet, returning its
// payload, spec.md §4.2 "Receive".
func (f *framer) readPacket() ([]byte, error) {
	if f.readCipher.isAEAD() {
		return f.readAEADPacket()
	}
	bs := f.readCipher.blockSize()
	if bs < 8 {
		bs = 8
	}
	first := make([]byte, bs)
	if _, err := io.ReadFull(f.br, first); err != nil {
		return nil, err
	}

	// We don't know packet_length until we decrypt; for stream
	// ciphers (aes*-ctr) decrypting the first block is sufficient to
	// read packet_length in the clear-equivalent position. We defer
	// full authenticity to the MAC check performed by open() once we
	// have the whole record.
	plainFirst, err := f.peekDecryptFirstBlock(first)
	if err != nil {
		return nil, err
	}
	packetLength := uint32(plainFirst[0])<<24 | uint32(plainFirst[1])<<16 | uint32(plainFirst[2])<<8 | uint32(plainFirst[3])
	if packetLength < 1 || uint64(packetLength) > maxPacketLength {
		return nil, errors.New("ssh: invalid packet length")
	}
	if (packetLength+4)%uint32(bs) != 0 {
		return nil, errors.New("ssh: packet length not aligned to block size")
	}

	remaining := int(packetLength) + 4 - bs
	rest := make([]byte, remaining)
	if _, err := io.ReadFull(f.br, rest); err != nil {
		return nil, err
	}

	macSize := macSizeForCipher(f.readCipher)
	if macSize > 0 {
		mac := make([]byte, macSize)
		if _, err := io.ReadFull(f.br, mac); err != nil {
			return nil, err
		}
		rest = append(rest, mac...)
	}

	var plain []byte
	if s, ok := f.readCipher.(*streamCipherSuite); ok {
		// The first block was already decrypted by the length peek;
		// decrypt only what follows it, then check the MAC.
		n := len(rest) - macSize
		plain = append(plainFirst, make([]byte, n)...)
		s.cipher.XORKeyStream(plain[bs:], rest[:n])
		if !hmac.Equal(rest[n:], s.computeMAC(f.readSeq, plain)) {
			return nil, errors.New("ssh: MAC mismatch")
		}
	} else {
		whole := append(first, rest...)
		if plain, err = f.readCipher.open(f.readSeq, whole); err != nil {
			return nil, err
		}
	}
	f.readSeq++

	paddingLength := plain[4]
	payloadEnd := len(plain) - int(paddingLength)
	if payloadEnd < 5 {
		return nil, errors.New("ssh: invalid padding length")
	}
	return plain[5:payloadEnd], nil
}

func macSizeForCipher(c packetCipher) int {
	if s, ok := c.(*streamCipherSuite); ok {
		return macSize(s.macName)
	}
	return 0
}

// peekDecryptFirstBlock returns the decrypted form of the first
// block so packet_length can be read before the rest of the packet
// has been read off the wire. For a CTR-mode suite this advances the
// keystream past the first block, so readPacket decrypts only the
// bytes after it and checks the MAC itself instead of calling open()
// on the whole record; the clear cipher has no keystream to advance.
func (f *framer) peekDecryptFirstBlock(first []byte) ([]byte, error) {
	switch c := f.readCipher.(type) {
	case clearCipher:
		return first, nil
	case *streamCipherSuite:
		out := make([]byte, len(first))
		c.cipher.XORKeyStream(out, first)
		return out, nil
	default:
		return nil, errors.New("ssh: unsupported cipher for length peek")
	}
}

// readAEADPacket handles chacha20-poly1305@openssh.com, whose
// packet_length is itself encrypted separately from the payload
// (spec.md §4.3).
func (f *framer) readAEADPacket() ([]byte, error) {
	s, ok := f.readCipher.(*aeadCipherSuite)
	if !ok {
		return nil, errors.New("ssh: AEAD read without AEAD cipher")
	}
	var lenBytes [4]byte
	if _, err := io.ReadFull(f.br, lenBytes[:]); err != nil {
		return nil, err
	}

	lenCipher, err := newLengthCipher(s.lengthKey[:], f.readSeq)
	if err != nil {
		return nil, err
	}
	var plainLen [4]byte
	lenCipher.XORKeyStream(plainLen[:], lenBytes[:])
	packetLength, _, _ := parseUint32(plainLen[:])
	if packetLength < 1 || uint64(packetLength) > maxPacketLength {
		return nil, errors.New("ssh: invalid packet length")
	}

	body := make([]byte, int(packetLength)+16) // +poly1305 tag
	if _, err := io.ReadFull(f.br, body); err != nil {
		return nil, err
	}

	whole := append(append([]byte{}, lenBytes[:]...), body...)
	plain, err := s.open(f.readSeq, whole[4:])
	if err != nil {
		return nil, err
	}
	f.readSeq++
	paddingLength := plain[0]
	payloadEnd := len(plain) - int(paddingLength)
	if payloadEnd < 1 {
		return nil, errors.New("ssh: invalid padding length")
	}
	return plain[1:payloadEnd], nil
}

func newLengthCipher(key []byte, seq uint32) (interface{ XORKeyStream(dst, src []byte) }, error) {
	return newChaCha20LengthStream(key, seq)
}

// readVersion reads the peer's SSH identification line, skipping any
// number of newline-terminated banner lines first, and enforcing the
// "SSH-2.0-" prefix, spec.md §4.4 step 1.
func readVersion(r io.Reader) ([]byte, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = trimCRLF(line)
		if len(line) >= 4 && line[:4] == "SSH-" {
			if len(line) < 8 || line[:8] != "SSH-2.0-" {
				return nil, fmt.Errorf("ssh: unsupported protocol version %q", line)
			}
			return []byte(line), nil
		}
		// banner line, discard and keep reading (RFC 4253 §4.2).
	}
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// handshakeMagics, copied unchanged from the teacher's common.go: the
// four byte strings that feed the exchange-hash computation.
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

// rekeyTracker accounts the three triggers of spec.md §4.4 step 5.
type rekeyTracker struct {
	packets   uint64
	bytes     uint64
	since     time.Time
	maxPkts   uint64
	maxBytes  uint64
	maxPeriod time.Duration
}

func newRekeyTracker(maxBytes, maxPackets uint64, maxPeriod time.Duration) *rekeyTracker {
	return &rekeyTracker{since: time.Now(), maxBytes: maxBytes, maxPkts: maxPackets, maxPeriod: maxPeriod}
}

func (r *rekeyTracker) record(n int) {
	r.packets++
	r.bytes += uint64(n)
}

func (r *rekeyTracker) due() bool {
	return r.packets > r.maxPkts || r.bytes > r.maxBytes || time.Since(r.since) > r.maxPeriod
}

func (r *rekeyTracker) reset() {
	r.packets = 0
	r.bytes = 0
	r.since = time.Now()
}

// buildKexInit assembles a KEXINIT payload, spec.md §4.4 step 2,
// using 16 random cookie bytes and the preference lists from cfg.
func buildKexInit(randSrc io.Reader, cfg *algorithmConfig) (kexInitMsg, error) {
	var m kexInitMsg
	if _, err := io.ReadFull(randSrc, m.Cookie[:]); err != nil {
		return m, err
	}
	m.KexAlgos = cfg.kexes()
	m.ServerHostKeyAlgos = cfg.hostKeyAlgos()
	m.CiphersClientServer = cfg.ciphers()
	m.CiphersServerClient = cfg.ciphers()
	m.MACsClientServer = cfg.macs()
	m.MACsServerClient = cfg.macs()
	m.CompressionClientServer = cfg.compressions()
	m.CompressionServerClient = cfg.compressions()
	return m, nil
}

func findCommonAlgorithm(clientAlgos []string, serverAlgos []string) (commonAlgo string, ok bool) {
	for _, clientAlgo := range clientAlgos {
		for _, serverAlgo := range serverAlgos {
			if clientAlgo == serverAlgo {
				return clientAlgo, true
			}
		}
	}
	return
}

func findCommonCipher(clientCiphers []string, serverCiphers []string) (commonCipher string, ok bool) {
	for _, clientCipher := range clientCiphers {
		for _, serverCipher := range serverCiphers {
			// reject the cipher if there is no cipherModes definition for it
			if clientCipher == serverCipher && cipherModes[clientCipher] != nil {
				return clientCipher, true
			}
		}
	}
	return
}

// negotiateServer picks, for each algorithm category, the first
// client-listed name also present in the server's list (spec.md §4.4
// step 2); it never reorders server preference to match the client.
func negotiateServer(client, server *kexInitMsg) (kexAlgo, hostKeyAlgo, cipherCS, cipherSC, macCS, macSC, compCS, compSC string, ok bool) {
	if kexAlgo, ok = findCommonAlgorithm(client.KexAlgos, server.KexAlgos); !ok {
		return
	}
	if hostKeyAlgo, ok = findCommonAlgorithm(client.ServerHostKeyAlgos, server.ServerHostKeyAlgos); !ok {
		return
	}
	if cipherCS, ok = findCommonCipher(client.CiphersClientServer, server.CiphersClientServer); !ok {
		return
	}
	if cipherSC, ok = findCommonCipher(client.CiphersServerClient, server.CiphersServerClient); !ok {
		return
	}
	if macCS, ok = findCommonAlgorithm(client.MACsClientServer, server.MACsClientServer); !ok {
		return
	}
	if macSC, ok = findCommonAlgorithm(client.MACsServerClient, server.MACsServerClient); !ok {
		return
	}
	if compCS, ok = findCommonAlgorithm(client.CompressionClientServer, server.CompressionClientServer); !ok {
		return
	}
	if compSC, ok = findCommonAlgorithm(client.CompressionServerClient, server.CompressionServerClient); !ok {
		return
	}
	ok = true
	return
}

// deriveKey computes one of the six session-key vectors of spec.md
// §3: K1 = hash(K || H || X || session_id), and each subsequent byte
// range is hash(K || H || K1 || ... || K(n-1)) concatenated until
// size bytes are available. K is the shared secret already encoded
// as an mpint, as kexResult.K carries it, and is hashed as is.
func deriveKey(hash crypto.Hash, K, H, sessionID []byte, x byte, size int) []byte {
	var digestsSoFar []byte
	h := hash.New()

	var out []byte
	for len(out) < size {
		h.Reset()
		h.Write(K)
		h.Write(H)
		if len(digestsSoFar) == 0 {
			h.Write([]byte{x})
			h.Write(sessionID)
		} else {
			h.Write(digestsSoFar)
		}
		digest := h.Sum(nil)
		out = append(out, digest...)
		digestsSoFar = append(digestsSoFar, digest...)
	}
	return out[:size]
}
