// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"net"
)

// serveUserAuth drives the userauth state machine of spec.md §4.5,
// starting from the client's SERVICE_REQUEST for "ssh-userauth" and
// ending either with USERAUTH_SUCCESS (returning the resulting
// AuthContext) or a disconnectError once the attempt cap is exceeded.
// It is the server-role sibling of the teacher's client.go
// authenticate, which this snapshot of the package only ever drove
// from the other side of the wire.
func serveUserAuth(t *framer, cfg *ServerConfig, sessionID []byte, remoteAddr net.Addr) (*AuthContext, error) {
	packet, err := t.readPacket()
	if err != nil {
		return nil, err
	}
	var svcReq serviceRequestMsg
	if err := unmarshal(&svcReq, packet, msgServiceRequest); err != nil {
		return nil, err
	}
	if svcReq.Service != serviceUserAuth {
		return nil, newDisconnect(DisconnectServiceNotAvailable, "expected ssh-userauth service request")
	}
	if err := t.writePacket(marshal(msgServiceAccept, serviceAcceptMsg{Service: serviceUserAuth})); err != nil {
		return nil, err
	}

	tries := 0
	for {
		packet, err := t.readPacket()
		if err != nil {
			return nil, err
		}
		var req userAuthRequestMsg
		if err := unmarshal(&req, packet, msgUserAuthRequest); err != nil {
			return nil, err
		}
		if req.Service != serviceSSH {
			return nil, newDisconnect(DisconnectProtocolError, "userauth request names an unknown service")
		}

		ctx := &AuthContext{User: req.User, Service: req.Service, RemoteAddr: remoteAddr, SessionID: sessionID}

		ok, done, skipFailure, err := tryAuthMethod(t, cfg, ctx, &req)
		if err != nil {
			return nil, err
		}
		cfg.Metrics.auth(req.Method, ok)
		if ok {
			if err := t.writePacket(marshal(msgUserAuthSuccess, userAuthSuccessMsg{})); err != nil {
				return nil, err
			}
			return ctx, nil
		}
		if !done {
			tries++
			if tries >= cfg.maxAuthTries() {
				return nil, newDisconnect(DisconnectNoMoreAuthMethodsAvailable, "too many authentication attempts")
			}
		}
		// A publickey probe that already replied PK_OK is the only case
		// that skips USERAUTH_FAILURE (RFC 4252 §7); every other
		// rejection — including an unregistered or unknown method,
		// which must not leave the client hanging — still gets one, just
		// uncounted against the cap when done is true.
		if skipFailure {
			continue
		}
		failure := userAuthFailureMsg{Methods: availableAuthMethods(cfg), PartialSuccess: false}
		if err := t.writePacket(marshal(msgUserAuthFailure, failure)); err != nil {
			return nil, err
		}
	}
}

// tryAuthMethod dispatches one USERAUTH_REQUEST to the matching
// Handlers callback. done is true when the request should not count
// against the failure cap (a publickey probe, or a method name this
// server never advertises); skipFailure is true only when the method
// already sent its own reply and no USERAUTH_FAILURE should follow (an
// accepted publickey probe's PK_OK).
func tryAuthMethod(t *framer, cfg *ServerConfig, ctx *AuthContext, req *userAuthRequestMsg) (ok, done, skipFailure bool, err error) {
	switch req.Method {
	case "none":
		if cfg.Handlers.AuthNone == nil {
			return false, true, false, nil
		}
		return cfg.Handlers.AuthNone(ctx), false, false, nil

	case "password":
		if cfg.Handlers.AuthPassword == nil {
			return false, true, false, nil
		}
		changed, rest, ok1 := parseBool(req.Payload)
		if !ok1 {
			return false, false, false, ParseError{msgUserAuthRequest}
		}
		passwordBytes, rest, ok1 := parseString(rest)
		if !ok1 {
			return false, false, false, ParseError{msgUserAuthRequest}
		}
		var newPassword string
		if changed {
			newBytes, _, ok2 := parseString(rest)
			if !ok2 {
				return false, false, false, ParseError{msgUserAuthRequest}
			}
			newPassword = string(newBytes)
		}
		return cfg.Handlers.AuthPassword(ctx, string(passwordBytes), newPassword), false, false, nil

	case "publickey":
		return tryPublicKey(t, cfg, ctx, req)

	default:
		return false, true, false, nil
	}
}

// tryPublicKey implements both sub-flows of spec.md §4.5's publickey
// method.
func tryPublicKey(t *framer, cfg *ServerConfig, ctx *AuthContext, req *userAuthRequestMsg) (ok, done, skipFailure bool, err error) {
	hasSig, rest, ok1 := parseBool(req.Payload)
	if !ok1 {
		return false, false, false, ParseError{msgUserAuthRequest}
	}
	algoBytes, rest, ok1 := parseString(rest)
	if !ok1 {
		return false, false, false, ParseError{msgUserAuthRequest}
	}
	blob, rest, ok1 := parseString(rest)
	if !ok1 {
		return false, false, false, ParseError{msgUserAuthRequest}
	}
	algo := string(algoBytes)

	key, parsed := ParsePublicKey(blob)
	if !parsed {
		return false, false, false, nil
	}

	if !hasSig {
		if cfg.Handlers.AuthPublicKeyProbe == nil || !cfg.Handlers.AuthPublicKeyProbe(ctx, key) {
			return false, true, false, nil
		}
		reply := userAuthPubKeyOkMsg{Algo: algo, PubKey: blob}
		if err := t.writePacket(marshal(msgUserAuthPubKeyOk, reply)); err != nil {
			return false, false, false, err
		}
		return false, true, true, nil
	}

	sigBlob, _, ok1 := parseString(rest)
	if !ok1 {
		return false, false, false, ParseError{msgUserAuthRequest}
	}
	sig, _, ok1 := parseSignatureBody(sigBlob)
	if !ok1 {
		return false, false, false, nil
	}
	if sig.Format != algo {
		return false, false, false, nil
	}

	signedData := buildPublicKeySignedData(ctx.SessionID, ctx.User, ctx.Service, algo, blob)

	var verified bool
	if rk, isRSA := key.(*rsaPublicKey); isRSA {
		verified = rk.VerifyWithAlgo(signedData, sig.Blob, algo)
	} else {
		verified = key.Verify(signedData, sig.Blob)
	}
	if !verified {
		return false, false, false, nil
	}
	if cfg.Handlers.AuthPublicKeyVerified == nil {
		return false, false, false, nil
	}
	return cfg.Handlers.AuthPublicKeyVerified(ctx, key), false, false, nil
}

// buildPublicKeySignedData returns the data a publickey userauth
// signature is computed over, RFC 4252 §7: the session id followed by
// the request fields the client signed against.
func buildPublicKeySignedData(sessionID []byte, user, service, algo string, pubKeyBlob []byte) []byte {
	const method = "publickey"

	length := stringLength(len(sessionID))
	length++ // msgUserAuthRequest tag
	length += stringLength(len(user))
	length += stringLength(len(service))
	length += stringLength(len(method))
	length++ // has_sig boolean
	length += stringLength(len(algo))
	length += stringLength(len(pubKeyBlob))

	ret := make([]byte, length)
	r := marshalString(ret, sessionID)
	r[0] = msgUserAuthRequest
	r = r[1:]
	r = marshalString(r, []byte(user))
	r = marshalString(r, []byte(service))
	r = marshalString(r, []byte(method))
	r[0] = 1
	r = r[1:]
	r = marshalString(r, []byte(algo))
	marshalString(r, pubKeyBlob)
	return ret
}

// availableAuthMethods lists the methods USERAUTH_FAILURE advertises,
// derived from which Handlers callbacks are actually wired up rather
// than a fixed list. When no auth callback is wired at all it returns
// ["none"] so the list is never empty, even though a "none" attempt
// then fails.
func availableAuthMethods(cfg *ServerConfig) []string {
	var methods []string
	if cfg.Handlers.AuthNone != nil {
		methods = append(methods, "none")
	}
	if cfg.Handlers.AuthPassword != nil {
		methods = append(methods, "password")
	}
	if cfg.Handlers.AuthPublicKeyProbe != nil || cfg.Handlers.AuthPublicKeyVerified != nil {
		methods = append(methods, "publickey")
	}
	if len(methods) == 0 {
		return []string{"none"}
	}
	return methods
}
