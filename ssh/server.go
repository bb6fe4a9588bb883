// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server accepts raw TCP connections and wraps each one as a Conn
// ready for its handshake. It plays the role the teacher's Dial plays
// for the client: the one place a net.Conn turns into an SSH
// connection, just pointed at the opposite role.
type Server struct {
	ln  net.Listener
	cfg *ServerConfig
}

// NewServer pairs a listener with the configuration every accepted
// connection will share.
func NewServer(ln net.Listener, cfg *ServerConfig) *Server {
	return &Server{ln: ln, cfg: cfg}
}

// Accept waits for the next raw connection and returns it pre-handshake.
// Call Conn.Serve to drive it.
func (s *Server) Accept() (*Conn, error) {
	raw, err := s.ln.Accept()
	if err != nil {
		return nil, err
	}
	s.cfg.Metrics.connAccepted()
	id := uuid.NewString()
	return &Conn{
		raw: raw,
		cfg: s.cfg,
		id:  id,
		log: logEntry(s.cfg).WithField("conn", id).WithField("remote", raw.RemoteAddr().String()),
	}, nil
}

// Close stops accepting new connections; connections already accepted
// continue running.
func (s *Server) Close() error { return s.ln.Close() }

// Conn is one server-side SSH connection: the handshake, userauth and
// then the connection-protocol multiplexer, run as the single
// cooperative driver task of spec.md's concurrency model. One
// goroutine owns the framer and the cryptographic state throughout;
// per-channel handler goroutines reach the wire only through send,
// which sendMu serializes.
type Conn struct {
	raw net.Conn
	cfg *ServerConfig
	id  string
	log *logrus.Entry

	t         *framer
	magics    handshakeMagics
	sessionID []byte
	hostKey   Signer

	sendMu sync.Mutex
	rekey  *rekeyTracker

	mux *serverMux
}

// RemoteAddr is the peer address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Serve exchanges versions, runs the initial key exchange, drives
// userauth to a successful USERAUTH_SUCCESS, and then serves the
// connection protocol (channel open/data/close, rekeys, global
// requests) until the peer disconnects, an error occurs, or the
// configured idle timeout elapses.
func (c *Conn) Serve() (err error) {
	defer c.raw.Close()

	hostKey, err := c.cfg.resolveHostKey()
	if err != nil {
		return err
	}
	c.hostKey = hostKey
	c.t = newFramer(c.raw, c.cfg.rand())

	defer func() {
		if err != nil {
			c.log.WithError(err).Warn("connection terminated")
		}
	}()

	if err = c.exchangeVersions(); err != nil {
		return err
	}
	if err = c.performKex(nil); err != nil {
		c.sendDisconnect(err)
		return err
	}
	c.log.Info("key exchange complete")

	authCtx, err := serveUserAuth(c.t, c.cfg, c.sessionID, c.RemoteAddr())
	if err != nil {
		c.sendDisconnect(err)
		return err
	}
	c.log.WithField("user", authCtx.User).Info("authenticated")

	c.mux = newServerMux(c.send, &c.cfg.Handlers, c.cfg, authCtx, c.log)
	err = c.runConnection()
	return err
}

// exchangeVersions sends this server's identification string and
// reads the client's, spec.md §4.1. Both strings feed the exchange
// hash of every key exchange for the life of the connection.
func (c *Conn) exchangeVersions() error {
	line := append(append([]byte{}, serverVersion...), '\r', '\n')
	if _, err := c.raw.Write(line); err != nil {
		return err
	}
	c.magics.serverVersion = serverVersion

	clientVersion, err := readVersion(c.t.br)
	if err != nil {
		return err
	}
	c.magics.clientVersion = clientVersion
	return nil
}

// performKex runs one full key exchange, spec.md §4.4. clientInitPacket
// is nil for the connection's first exchange (we speak first); for a
// rekey triggered by the peer it holds the KEXINIT packet the
// connection loop already read off the wire, so the KEXINITs are
// never read twice.
func (c *Conn) performKex(clientInitPacket []byte) error {
	serverInit, err := buildKexInit(c.cfg.rand(), &c.cfg.Algorithms)
	if err != nil {
		return err
	}
	serverInitPacket := marshal(msgKexInit, serverInit)
	if err := c.t.writePacket(serverInitPacket); err != nil {
		return err
	}
	c.magics.serverKexInit = serverInitPacket

	if clientInitPacket == nil {
		clientInitPacket, err = c.t.readPacket()
		if err != nil {
			return err
		}
	}
	var clientInit kexInitMsg
	if err := unmarshal(&clientInit, clientInitPacket, msgKexInit); err != nil {
		return err
	}
	c.magics.clientKexInit = clientInitPacket

	kexAlgo, hostKeyAlgo, cipherCS, cipherSC, macCS, macSC, _, _, ok := negotiateServer(&clientInit, &serverInit)
	if !ok {
		return newDisconnect(DisconnectKeyExchangeFailed, "no common algorithm across some category")
	}
	if !hostKeyAlgoMatches(c.hostKey, hostKeyAlgo) {
		return newDisconnect(DisconnectKeyExchangeFailed, "no host key for negotiated algorithm "+hostKeyAlgo)
	}

	result, err := serverKEX(c.t, kexAlgo, &c.magics, c.hostKey, c.cfg.rand())
	if err != nil {
		return err
	}

	first := c.sessionID == nil
	if first {
		c.sessionID = result.H
	}

	if err := c.t.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	if err := c.installKeys(cipherSC, macSC, result, serverKeys); err != nil {
		return err
	}

	packet, err := c.t.readPacket()
	if err != nil {
		return err
	}
	if len(packet) == 0 || packet[0] != msgNewKeys {
		return UnexpectedMessageError{Expected: msgNewKeys, Got: packet[0]}
	}
	if err := c.installKeys(cipherCS, macCS, result, clientKeys); err != nil {
		return err
	}

	bytesLimit, packetsLimit, periodLimit := c.cfg.rekeyLimits()
	c.rekey = newRekeyTracker(bytesLimit, packetsLimit, periodLimit)
	if !first {
		c.cfg.Metrics.rekeyed()
		c.log.Info("rekeyed")
	}
	return nil
}

// keyDirection picks which half of RFC 4253 §7.2's six derived keys
// (A..F) a cipher is instantiated with.
type keyDirection int

const (
	serverKeys keyDirection = iota // server-to-client: write cipher
	clientKeys                     // client-to-server: read cipher
)

// installKeys derives the key material for one direction and swaps it
// into the framer, spec.md §4.4 step 4.
func (c *Conn) installKeys(cipherName, macName string, result *kexResult, dir keyDirection) error {
	var ivLetter, encLetter, macLetter byte
	if dir == clientKeys {
		ivLetter, encLetter, macLetter = 'A', 'C', 'E'
	} else {
		ivLetter, encLetter, macLetter = 'B', 'D', 'F'
	}

	mode, ok := cipherModes[cipherName]
	if !ok {
		return fmt.Errorf("ssh: unknown cipher %q", cipherName)
	}
	iv := deriveKey(result.Hash, result.K, result.H, c.sessionID, ivLetter, mode.ivSize)
	key := deriveKey(result.Hash, result.K, result.H, c.sessionID, encLetter, mode.keySize)

	suite, err := mode.create(key, iv)
	if err != nil {
		return err
	}
	if !mode.aead {
		if ms, ok := suite.(macSetter); ok {
			macKey := deriveKey(result.Hash, result.K, result.H, c.sessionID, macLetter, macSize(macName))
			ms.setMAC(macName, macKey)
		}
	}

	if dir == clientKeys {
		c.t.readCipher = suite
	} else {
		c.t.writeCipher = suite
	}
	return nil
}

// hostKeyAlgoMatches accepts both names a single RSA signer can
// satisfy: the modern rsa-sha2-256 scheme and the legacy ssh-rsa one,
// spec.md §9's resolution of the publickey algorithm/key-type Open
// Question applied symmetrically to host-key negotiation.
func hostKeyAlgoMatches(signer Signer, algo string) bool {
	native := signer.PublicKey().PrivateKeyAlgo()
	if algo == native {
		return true
	}
	return native == KeyAlgoRSA && algo == KeyAlgoRSASHA256
}

// send writes one already-marshaled packet, serializing access to the
// framer across the inbound loop and every per-channel handler
// goroutine, spec.md §5's "outbound arbiter".
func (c *Conn) send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.t.writePacket(payload); err != nil {
		return err
	}
	if c.rekey != nil {
		c.rekey.record(len(payload))
	}
	return nil
}

// runConnection is the inbound packet loop of spec.md §5: read one
// packet, dispatch it (global requests and channel messages to the
// mux, KEXINIT to a rekey, everything else handled inline), then
// check whether accumulated traffic has crossed a rekey threshold.
func (c *Conn) runConnection() error {
	defer c.mux.closeAll()
	defer c.mux.wg.Wait()

	for {
		if err := c.raw.SetReadDeadline(time.Now().Add(c.cfg.timeout())); err != nil {
			return err
		}
		packet, err := c.t.readPacket()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendDisconnect(newDisconnect(DisconnectConnectionLost, "idle timeout"))
				return nil
			}
			return err
		}
		if len(packet) == 0 {
			continue
		}

		switch packet[0] {
		case msgDisconnect:
			return nil
		case msgIgnore, msgDebug, msgUnimplemented:
			continue
		case msgKexInit:
			c.sendMu.Lock()
			err := c.performKex(packet)
			c.sendMu.Unlock()
			if err != nil {
				c.sendDisconnect(err)
				return err
			}
			continue
		}

		if !isConnectionMessageTag(packet[0]) {
			seq := c.t.readSeq - 1
			if err := c.send(marshal(msgUnimplemented, unimplementedMsg{SeqNum: seq})); err != nil {
				return err
			}
			continue
		}

		if err := c.mux.handle(packet[0], packet); err != nil {
			c.sendDisconnect(err)
			return err
		}

		c.sendMu.Lock()
		if c.rekey.due() {
			err = c.performKex(nil)
		}
		c.sendMu.Unlock()
		if err != nil {
			c.sendDisconnect(err)
			return err
		}
	}
}

// sendDisconnect best-effort notifies the peer why the connection is
// ending. Write errors are swallowed: the socket is about to close
// either way.
func (c *Conn) sendDisconnect(err error) {
	if err == nil {
		return
	}
	reason := uint32(DisconnectProtocolError)
	message := err.Error()
	if de, ok := err.(*disconnectError); ok {
		reason = de.reason
		message = de.message
	}
	msg := disconnectMsg{Reason: reason, Message: safeString(message), Language: "en"}
	c.send(marshal(msgDisconnect, msg))
}

// safeString strips bytes a DISCONNECT/DEBUG message must not carry
// (RFC 4251 §5's byte[] wire encoding already handles non-UTF8 bytes;
// this only keeps control characters out of terminals that print
// disconnect reasons verbatim).
func safeString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= 32 || s[i] == '\t' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
