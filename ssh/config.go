// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Service and compression names used on the wire, RFC 4253 §7.1 and
// RFC 4252 §4. Compression is not implemented (spec.md Non-goals);
// "none" is the only entry ever offered or accepted.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

var supportedCompressions = []string{compressionNone}

// algorithmConfig is the server-role analogue of the teacher's
// CryptoConfig (common.go): the same "fall back to a package default
// when unset" pattern, extended with the host-key and compression
// categories spec.md §6 asks to be configurable.
type algorithmConfig struct {
	KeyExchanges  []string
	Ciphers       []string
	MACs          []string
	HostKeyAlgos  []string
	Compressions  []string
}

func (c *algorithmConfig) kexes() []string {
	if c.KeyExchanges == nil {
		return defaultKeyExchangeOrder
	}
	return c.KeyExchanges
}

func (c *algorithmConfig) ciphers() []string {
	if c.Ciphers == nil {
		return DefaultCipherOrder
	}
	return c.Ciphers
}

func (c *algorithmConfig) macs() []string {
	if c.MACs == nil {
		return DefaultMACOrder
	}
	return c.MACs
}

func (c *algorithmConfig) hostKeyAlgos() []string {
	if c.HostKeyAlgos == nil {
		return DefaultHostKeyAlgoOrder
	}
	return c.HostKeyAlgos
}

func (c *algorithmConfig) compressions() []string {
	if c.Compressions == nil {
		return supportedCompressions
	}
	return c.Compressions
}

// ServerConfig configures a Server, gathering every option spec.md §6
// lists as "recognized options". It plays the role the teacher's
// ClientConfig plays for the client role.
type ServerConfig struct {
	// Rand provides entropy for key generation, nonces and padding.
	// A nil Rand uses crypto/rand.Reader, exactly like the teacher's
	// ClientConfig.rand().
	Rand io.Reader

	// Algorithms holds the ordered preference lists for each
	// category named in spec.md §6. Leaving a category nil preserves
	// this library's own defaults rather than silently reordering
	// them (spec.md §9 Open Question).
	Algorithms algorithmConfig

	// Handlers dispatches auth and channel-kind callbacks, spec.md
	// §4.7.
	Handlers Handlers

	// Timeout is the inbound idle timeout, spec.md §5 and §6. Zero
	// means the spec.md default of 60s.
	Timeout time.Duration

	// InitialWindowSize and MaxPacketSize configure per-channel flow
	// control, spec.md §4.6. Zero means the spec.md defaults of 2
	// MiB and 32 KiB respectively.
	InitialWindowSize uint32
	MaxPacketSize     uint32

	// RekeyBytes, RekeyPackets, RekeySeconds override the rekey
	// triggers of spec.md §4.4 step 5. Zero means the spec.md
	// defaults (1 GiB, 2^32 packets, 1h).
	RekeyBytes   uint64
	RekeyPackets uint64
	RekeySeconds uint64

	// MaxAuthTries bounds USERAUTH_FAILURE attempts before a
	// disconnect, spec.md §4.5. Zero means the spec.md default of 20.
	MaxAuthTries int

	// EphemeralHostKeys is not consulted by this package: whenever
	// HostKeyBytes is empty, a fresh ed25519 host key is generated for
	// this ServerConfig regardless of this field, and setting it to
	// false does not make HostKeyBytes required.
	EphemeralHostKeys bool

	// HostKeyBytes, if set, is parsed by ParseOpenSSHPrivateKey as
	// the server's host key (spec.md §6 "Persisted state").
	HostKeyBytes []byte

	// Logger receives structured events for handshake milestones,
	// disconnects and auth outcomes (§10 of SPEC_FULL.md). Nil uses a
	// warn-level default, see log.go.
	Logger *logrus.Entry

	// Metrics, if non-nil, receives Prometheus counters for
	// connection/auth/channel/rekey activity (§10 of SPEC_FULL.md).
	Metrics *metrics

	hostKey Signer
}

func (c *ServerConfig) rand() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

func (c *ServerConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c *ServerConfig) initialWindowSize() uint32 {
	if c.InitialWindowSize == 0 {
		return 2 << 20
	}
	return c.InitialWindowSize
}

func (c *ServerConfig) maxPacketSize() uint32 {
	if c.MaxPacketSize == 0 {
		return 32 << 10
	}
	return c.MaxPacketSize
}

func (c *ServerConfig) rekeyLimits() (bytes, packets uint64, seconds time.Duration) {
	bytes = c.RekeyBytes
	if bytes == 0 {
		bytes = 1 << 30
	}
	packets = c.RekeyPackets
	if packets == 0 {
		packets = 1 << 32
	}
	seconds = time.Duration(c.RekeySeconds) * time.Second
	if seconds == 0 {
		seconds = time.Hour
	}
	return
}

func (c *ServerConfig) maxAuthTries() int {
	if c.MaxAuthTries == 0 {
		return 20
	}
	return c.MaxAuthTries
}

// resolveHostKey returns the server's host-key Signer: the key parsed
// from HostKeyBytes if set, otherwise an ephemeral ed25519 key
// generated on first use. The result is cached on the ServerConfig.
func (c *ServerConfig) resolveHostKey() (Signer, error) {
	if c.hostKey != nil {
		return c.hostKey, nil
	}
	if len(c.HostKeyBytes) > 0 {
		signer, err := ParseOpenSSHPrivateKey(c.HostKeyBytes)
		if err != nil {
			return nil, err
		}
		c.hostKey = signer
		return signer, nil
	}
	signer, err := GenerateEphemeralHostKey(c.rand())
	if err != nil {
		return nil, err
	}
	c.hostKey = signer
	return signer, nil
}
