// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"io"
	"sync"
)

// channelState is the state machine of spec.md §3's Channel type.
type channelState int

const (
	stateOpening channelState = iota
	stateOpen
	stateEOFRx
	stateEOFTx
	stateClosed
)

// serverChannel is the server-side half of one multiplexed channel,
// spec.md §3 "Channel" and §4.6. Local ids are assigned by
// serverMux.openChannel from a monotonically growing counter, exactly
// like the teacher's chanList.newChan assigns clientChan.localId in
// client.go.
type serverChannel struct {
	mu sync.Mutex

	localID, remoteID uint32
	kind              string
	state             channelState
	localWindow       *window
	remoteWindow      *window
	localMaxPacket    uint32
	remoteMaxPacket   uint32

	// initialWindow records the configured local window size so a
	// quarter of it can be computed for the top-up rule below,
	// independent of however much of the window is currently in use.
	initialWindow uint32

	// consumed counts bytes delivered to the handler's stdin reader
	// since the last WINDOW_ADJUST was sent, driving the ¼-window
	// top-up rule of spec.md §4.6.
	consumed uint32

	stdin *pipe

	sendLocked func(payload []byte) error
	metrics    *metrics

	closeSent, closeRecv bool

	onWindowChange WindowChangeFunc
	onSignal       func(name string)

	exitSent bool

	// pty, env and directTCPIP accumulate channel-request state set by
	// serverMux.request before a handler starts, spec.md §4.6/§4.7.
	pty         *PTYInfo
	env         map[string]string
	directTCPIP *directTCPIPMsg
}

func newServerChannel(localID uint32, kind string, localWindowSize, localMaxPacket uint32, send func([]byte) error, m *metrics) *serverChannel {
	return &serverChannel{
		localID:        localID,
		kind:           kind,
		state:          stateOpening,
		localWindow:    &window{Cond: newCond(), win: localWindowSize},
		remoteWindow:   newWindow(),
		localMaxPacket: localMaxPacket,
		initialWindow:  localWindowSize,
		stdin:          newPipe(),
		sendLocked:     send,
		metrics:        m,
	}
}

// stdinReader is given to the application handler: it drains bytes
// the remote peer sent as CHANNEL_DATA. Each Read replenishes the
// local window once a quarter of it has been consumed, spec.md §4.6.
func (c *serverChannel) stdinReader() io.Reader { return trackingReader{c} }

type trackingReader struct{ c *serverChannel }

func (t trackingReader) Read(b []byte) (int, error) {
	n, err := t.c.stdin.Read(b)
	if n > 0 {
		t.c.noteConsumed(uint32(n))
	}
	return n, err
}

// noteConsumed implements the window top-up rule: once ≥ ¼ of
// local_window worth of bytes have been surfaced to the handler,
// send CHANNEL_WINDOW_ADJUST replenishing exactly that amount.
func (c *serverChannel) noteConsumed(n uint32) {
	c.mu.Lock()
	c.consumed += n
	quarter := c.initialLocalWindowQuarter()
	due := c.consumed
	shouldSend := quarter > 0 && c.consumed >= quarter
	if shouldSend {
		c.consumed = 0
	}
	c.mu.Unlock()

	if !shouldSend {
		return
	}
	c.localWindow.add(due)
	msg := channelWindowAdjustMsg{PeersID: c.remoteID, AdditionalBytes: due}
	c.sendLocked(marshal(msgChannelWindowAdjust, msg))
}

func (c *serverChannel) initialLocalWindowQuarter() uint32 {
	return c.initialWindow / 4
}

func (c *serverChannel) stdoutWriter() io.Writer { return remoteWriter{c: c, extCode: 0} }
func (c *serverChannel) stderrWriter() io.Writer { return remoteWriter{c: c, extCode: 1} }

// remoteWriter turns handler Write calls into CHANNEL_DATA (extCode
// 0) or CHANNEL_EXTENDED_DATA (extCode 1, stderr) messages,
// respecting remote_window and remote_max_packet (spec.md §3
// invariants).
type remoteWriter struct {
	c       *serverChannel
	extCode uint32
}

func (w remoteWriter) Write(b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n := w.c.remoteWindow.reserve(uint32(len(b)))
		if n == 0 {
			return total, io.ErrClosedPipe
		}
		if n > w.c.remoteMaxPacket {
			n = w.c.remoteMaxPacket
		}
		chunk := b[:n]
		var payload []byte
		if w.extCode == 0 {
			payload = marshal(msgChannelData, channelDataMsg{PeersID: w.c.remoteID, Length: uint32(len(chunk)), Rest: chunk})
		} else {
			payload = marshal(msgChannelExtendedData, channelExtendedDataMsg{PeersID: w.c.remoteID, DataType: w.extCode, Length: uint32(len(chunk)), Rest: chunk})
		}
		if err := w.c.sendLocked(payload); err != nil {
			return total, err
		}
		w.c.metrics.transferred("tx", len(chunk))
		total += len(chunk)
		b = b[n:]
	}
	return total, nil
}
