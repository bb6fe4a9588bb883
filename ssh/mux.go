// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// serverMux is the channel multiplexer of spec.md §4.6: it owns the
// local_id → Channel mapping and demultiplexes CHANNEL_* and
// GLOBAL_REQUEST messages onto the application's Handlers, the same
// local-id-indexed-table idiom the teacher used for client-side
// channels, generalized from a client-initiated "open channel, wait
// for confirm" flow to a server that accepts CHANNEL_OPEN from the
// peer.
type serverMux struct {
	mu       sync.Mutex
	channels map[uint32]*serverChannel
	nextID   uint32

	send    func([]byte) error
	handlers *Handlers
	cfg     *ServerConfig
	authCtx *AuthContext
	log     *logrus.Entry

	wg sync.WaitGroup
}

// isConnectionMessageTag reports whether tag is one serverMux.handle
// actually dispatches below. Kept in sync with that switch so
// runConnection can tell a tag this server has no handler at all for
// — which must get SSH_MSG_UNIMPLEMENTED, spec.md §4.1 — from the
// server-to-client replies (CHANNEL_OPEN_CONFIRMATION and friends) a
// compliant client never sends and this mux never expects.
func isConnectionMessageTag(tag byte) bool {
	switch tag {
	case msgGlobalRequest, msgChannelOpen, msgChannelWindowAdjust,
		msgChannelData, msgChannelExtendedData, msgChannelEOF,
		msgChannelClose, msgChannelRequest:
		return true
	}
	return false
}

func newServerMux(send func([]byte) error, handlers *Handlers, cfg *ServerConfig, authCtx *AuthContext, log *logrus.Entry) *serverMux {
	return &serverMux{
		channels: make(map[uint32]*serverChannel),
		send:     send,
		handlers: handlers,
		cfg:      cfg,
		authCtx:  authCtx,
		log:      log,
	}
}

// handle dispatches one decoded Connection-layer message, spec.md
// §4.6's table. It is called from the transport's inbound packet
// loop once the connection has reached the Ready/userauth-succeeded
// phase.
func (m *serverMux) handle(tag byte, packet []byte) error {
	switch tag {
	case msgGlobalRequest:
		var req globalRequestMsg
		if err := unmarshal(&req, packet, msgGlobalRequest); err != nil {
			return err
		}
		if req.WantReply {
			return m.send(marshal(msgRequestFailure, globalRequestFailureMsg{}))
		}
		return nil

	case msgChannelOpen:
		var req channelOpenMsg
		if err := unmarshal(&req, packet, msgChannelOpen); err != nil {
			return err
		}
		return m.openChannel(&req)

	case msgChannelWindowAdjust:
		var req channelWindowAdjustMsg
		if err := unmarshal(&req, packet, msgChannelWindowAdjust); err != nil {
			return err
		}
		ch, ok := m.get(req.PeersID)
		if !ok {
			return nil
		}
		if !ch.remoteWindow.add(req.AdditionalBytes) {
			return newDisconnect(DisconnectProtocolError, "window adjust overflow")
		}
		return nil

	case msgChannelData:
		if len(packet) < 9 {
			return newDisconnect(DisconnectProtocolError, "malformed channel data")
		}
		id := binary.BigEndian.Uint32(packet[1:5])
		length := binary.BigEndian.Uint32(packet[5:9])
		data := packet[9:]
		if uint64(length) != uint64(len(data)) {
			return newDisconnect(DisconnectProtocolError, "channel data length mismatch")
		}
		ch, ok := m.get(id)
		if !ok {
			return nil
		}
		return m.deliverData(ch, data)

	case msgChannelExtendedData:
		if len(packet) < 13 {
			return newDisconnect(DisconnectProtocolError, "malformed extended data")
		}
		id := binary.BigEndian.Uint32(packet[1:5])
		code := binary.BigEndian.Uint32(packet[5:9])
		length := binary.BigEndian.Uint32(packet[9:13])
		data := packet[13:]
		if uint64(length) != uint64(len(data)) {
			return newDisconnect(DisconnectProtocolError, "channel data length mismatch")
		}
		ch, ok := m.get(id)
		if !ok || code != 1 {
			return nil
		}
		return m.deliverData(ch, data)

	case msgChannelEOF:
		var req channelEOFMsg
		if err := unmarshal(&req, packet, msgChannelEOF); err != nil {
			return err
		}
		ch, ok := m.get(req.PeersID)
		if !ok {
			return nil
		}
		ch.mu.Lock()
		ch.state = stateEOFRx
		ch.mu.Unlock()
		ch.stdin.eofNotify()
		return nil

	case msgChannelClose:
		var req channelCloseMsg
		if err := unmarshal(&req, packet, msgChannelClose); err != nil {
			return err
		}
		return m.closeFromPeer(req.PeersID)

	case msgChannelRequest:
		var req channelRequestMsg
		if err := unmarshal(&req, packet, msgChannelRequest); err != nil {
			return err
		}
		return m.request(&req)
	}
	return nil
}

// deliverData enforces spec.md §3's window invariant before handing
// bytes to the handler's stdin pipe.
func (m *serverMux) deliverData(ch *serverChannel, data []byte) error {
	if uint32(len(data)) > ch.localMaxPacket {
		return newDisconnect(DisconnectProtocolError, "channel data exceeds max packet size")
	}
	w := ch.localWindow
	w.L.Lock()
	if w.win < uint32(len(data)) {
		w.L.Unlock()
		return newDisconnect(DisconnectProtocolError, "channel data exceeds local window")
	}
	w.win -= uint32(len(data))
	w.L.Unlock()
	ch.stdin.write(data)
	m.cfg.Metrics.transferred("rx", len(data))
	return nil
}

func (m *serverMux) get(id uint32) (*serverChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

func (m *serverMux) openChannel(req *channelOpenMsg) error {
	kind := req.ChanType
	accepted := kind == "session" || kind == "direct-tcpip"
	if !accepted {
		fail := channelOpenFailureMsg{
			PeersID:  req.PeersID,
			Reason:   ChannelOpenUnknownChannelType,
			Message:  "unsupported channel type: " + kind,
			Language: "en",
		}
		return m.send(marshal(msgChannelOpenFailure, fail))
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	localWindowSize := m.cfg.initialWindowSize()
	localMaxPacket := m.cfg.maxPacketSize()
	ch := newServerChannel(id, kind, localWindowSize, localMaxPacket, m.send, m.cfg.Metrics)
	ch.remoteID = req.PeersID
	ch.remoteMaxPacket = req.MaxPacketSize
	ch.state = stateOpen
	m.channels[id] = ch
	m.mu.Unlock()

	ch.remoteWindow.add(req.PeersWindow)

	if kind == "direct-tcpip" {
		var d directTCPIPMsg
		if err := unmarshalStruct(&d, req.TypeSpecificData); err != nil {
			m.mu.Lock()
			delete(m.channels, id)
			m.mu.Unlock()
			fail := channelOpenFailureMsg{PeersID: req.PeersID, Reason: ChannelOpenConnectFailed, Message: "malformed direct-tcpip request", Language: "en"}
			return m.send(marshal(msgChannelOpenFailure, fail))
		}
		ch.directTCPIP = &d
	}

	confirm := channelOpenConfirmMsg{
		PeersID:       req.PeersID,
		MyID:          id,
		MyWindow:      localWindowSize,
		MaxPacketSize: localMaxPacket,
	}
	if err := m.send(marshal(msgChannelOpenConfirm, confirm)); err != nil {
		return err
	}
	m.cfg.Metrics.channelOpened(kind)

	if kind == "direct-tcpip" && m.handlers.OnDirectTCPIP != nil {
		m.startHandler(ch, m.handlers.OnDirectTCPIP, &ChannelContext{
			ch:         ch,
			DestHost:   ch.directTCPIP.Host,
			DestPort:   ch.directTCPIP.Port,
			OriginHost: ch.directTCPIP.OriginHost,
			OriginPort: ch.directTCPIP.OriginPort,
		})
	}
	return nil
}

// unmarshalStruct decodes a tagless, pre-extracted blob (such as a
// channel-open message's TypeSpecificData) using the same field
// walker as unmarshal, but without checking a leading tag byte.
func unmarshalStruct(msg interface{}, data []byte) error {
	fake := append([]byte{0}, data...)
	return unmarshal(msg, fake, 0)
}

func (m *serverMux) request(req *channelRequestMsg) error {
	ch, ok := m.get(req.PeersID)
	if !ok {
		return nil
	}

	var ok2 bool
	switch req.Request {
	case "pty-req":
		var p ptyRequestMsg
		ok2 = unmarshalStruct(&p, req.Payload) == nil
		if ok2 {
			ch.pty = &PTYInfo{Term: p.Term, Columns: p.Columns, Rows: p.Rows, Width: p.Width, Height: p.Height}
		}
	case "env":
		var e envMsg
		ok2 = unmarshalStruct(&e, req.Payload) == nil
		if ok2 {
			ch.mu.Lock()
			if ch.env == nil {
				ch.env = map[string]string{}
			}
			ch.env[e.Name] = e.Value
			ch.mu.Unlock()
		}
	case "window-change":
		var w windowChangeMsg
		ok2 = unmarshalStruct(&w, req.Payload) == nil
		if ok2 && ch.onWindowChange != nil {
			ch.onWindowChange(w.Columns, w.Rows, w.Width, w.Height)
		}
	case "signal":
		name, _, parsed := parseString(req.Payload)
		ok2 = parsed
		if ok2 && ch.onSignal != nil {
			ch.onSignal(string(name))
		}
	case "shell":
		ok2 = m.startSession(ch, "shell", "", "")
	case "exec":
		var e execMsg
		if unmarshalStruct(&e, req.Payload) == nil {
			ok2 = m.startSession(ch, "exec", e.Command, "")
		}
	case "subsystem":
		var s subsystemMsg
		if unmarshalStruct(&s, req.Payload) == nil {
			ok2 = m.startSession(ch, "subsystem", "", s.Subsystem)
		}
	default:
		ok2 = false
	}

	if req.WantReply {
		if ok2 {
			return m.send(marshal(msgChannelSuccess, channelRequestSuccessMsg{PeersID: ch.remoteID}))
		}
		return m.send(marshal(msgChannelFailure, channelRequestFailureMsg{PeersID: ch.remoteID}))
	}
	return nil
}

// startSession looks up the handler for kind ("shell"/"exec"/
// "subsystem"), builds its ChannelContext and runs it as a per-channel
// task (spec.md §5), returning whether a handler was found to run.
func (m *serverMux) startSession(ch *serverChannel, kind, command, subsystem string) bool {
	fn := m.handlers.channelHandlerFor(kind)
	if fn == nil {
		return false
	}
	ctx := &ChannelContext{ch: ch, Command: command, Subsystem: subsystem, Env: ch.env, PTY: ch.pty}
	m.startHandler(ch, fn, ctx)
	return true
}

// startHandler runs a handler future per spec.md §4.7/§5: one
// goroutine per open channel, whose completion drives the
// exit-status/EOF/CLOSE sequence of spec.md §4.6.
func (m *serverMux) startHandler(ch *serverChannel, fn func(ctx *ChannelContext) (uint32, error), ctx *ChannelContext) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.WithField("panic", r).Error("channel handler panicked")
				m.finishChannel(ch, 1)
			}
		}()
		code, err := fn(ctx)
		if err != nil {
			m.log.WithError(err).Warn("channel handler returned an error")
			code = 1
		}
		m.finishChannel(ch, code)
	}()
}

// finishChannel implements spec.md §4.6 "Channel exit": exit-status,
// then EOF, then CLOSE.
func (m *serverMux) finishChannel(ch *serverChannel, code uint32) {
	ch.mu.Lock()
	if ch.exitSent {
		ch.mu.Unlock()
		return
	}
	ch.exitSent = true
	ch.mu.Unlock()

	m.send(marshal(msgChannelRequest, channelRequestMsg{
		PeersID: ch.remoteID,
		Request: "exit-status",
		Payload: marshalExitStatus(code),
	}))
	m.send(marshal(msgChannelEOF, channelEOFMsg{PeersID: ch.remoteID}))
	m.closeLocal(ch)
}

func marshalExitStatus(code uint32) []byte {
	var b [4]byte
	marshalUint32(b[:], code)
	return b[:]
}

func (m *serverMux) closeLocal(ch *serverChannel) {
	ch.mu.Lock()
	alreadySent := ch.closeSent
	ch.closeSent = true
	shouldFree := ch.closeSent && ch.closeRecv
	ch.mu.Unlock()

	if !alreadySent {
		m.send(marshal(msgChannelClose, channelCloseMsg{PeersID: ch.remoteID}))
	}
	if shouldFree {
		m.free(ch.localID)
	}
}

func (m *serverMux) closeFromPeer(id uint32) error {
	ch, ok := m.get(id)
	if !ok {
		return nil
	}
	ch.mu.Lock()
	ch.closeRecv = true
	wasSent := ch.closeSent
	ch.mu.Unlock()
	ch.stdin.closeWith(nil)

	if !wasSent {
		if err := m.send(marshal(msgChannelClose, channelCloseMsg{PeersID: ch.remoteID})); err != nil {
			return err
		}
		ch.mu.Lock()
		ch.closeSent = true
		ch.mu.Unlock()
	}
	m.free(id)
	return nil
}

func (m *serverMux) free(id uint32) {
	m.mu.Lock()
	delete(m.channels, id)
	m.mu.Unlock()
}

// closeAll is invoked when the connection shuts down, cancelling
// every outstanding handler future by closing their stdio pipes
// (spec.md §4.7 "a connection shutdown cancels all outstanding
// handler futures"; spec.md §5 "Cancellation").
func (m *serverMux) closeAll() {
	m.mu.Lock()
	chans := make([]*serverChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[uint32]*serverChannel)
	m.mu.Unlock()

	for _, ch := range chans {
		ch.stdin.closeWith(io.ErrClosedPipe)
		ch.localWindow.broadcastClose()
		ch.remoteWindow.broadcastClose()
	}
}
