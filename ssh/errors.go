// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "fmt"

// UnexpectedMessageError results when the SSH message that we
// received didn't match what we wanted.
type UnexpectedMessageError struct {
	Expected, Got uint8
}

func (u UnexpectedMessageError) Error() string {
	return fmt.Sprintf("ssh: unexpected message type %d (expected %d)", u.Got, u.Expected)
}

// ParseError results from a malformed SSH message.
type ParseError struct {
	MsgType uint8
}

func (p ParseError) Error() string {
	return fmt.Sprintf("ssh: parse error in message type %d", p.MsgType)
}

// disconnectError carries the fields of a DISCONNECT message this
// side is about to send or has just received, giving callers of
// Conn.Serve a typed reason to inspect, per spec.md §7.
type disconnectError struct {
	reason  uint32
	message string
}

func (d *disconnectError) Error() string {
	return fmt.Sprintf("ssh: disconnect, reason %d: %s", d.reason, d.message)
}

// newDisconnect builds the error used to unwind a connection for each
// of the fatal kinds in spec.md §7's table.
func newDisconnect(reason uint32, message string) *disconnectError {
	return &disconnectError{reason: reason, message: message}
}

