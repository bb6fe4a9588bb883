// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// sentPacket records one marshaled packet handed to serverMux.send,
// keyed by its leading message tag for easy assertions.
type sentPacket struct {
	tag     byte
	payload []byte
}

func newTestMux(t *testing.T, handlers *Handlers) (*serverMux, *[]sentPacket) {
	t.Helper()
	var mu sync.Mutex
	var sent []sentPacket

	cfg := &ServerConfig{Handlers: *handlers}
	log := logrus.NewEntry(logrus.New())

	send := func(packet []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if len(packet) == 0 {
			return nil
		}
		sent = append(sent, sentPacket{tag: packet[0], payload: packet[1:]})
		return nil
	}

	m := newServerMux(send, handlers, cfg, &AuthContext{User: "tester"}, log)
	return m, &sent
}

// TestIsConnectionMessageTagMatchesHandledTags pins isConnectionMessageTag
// to the exact set of tags serverMux.handle dispatches, since
// runConnection relies on it to decide when a tag is genuinely
// unsupported and needs SSH_MSG_UNIMPLEMENTED rather than routing to
// the mux.
func TestIsConnectionMessageTagMatchesHandledTags(t *testing.T) {
	handled := []byte{
		msgGlobalRequest, msgChannelOpen, msgChannelWindowAdjust,
		msgChannelData, msgChannelExtendedData, msgChannelEOF,
		msgChannelClose, msgChannelRequest,
	}
	for _, tag := range handled {
		if !isConnectionMessageTag(tag) {
			t.Errorf("tag %d is dispatched by serverMux.handle but isConnectionMessageTag says no", tag)
		}
	}

	unhandled := []byte{
		msgRequestSuccess, msgRequestFailure, msgChannelOpenConfirm,
		msgChannelOpenFailure, msgChannelSuccess, msgChannelFailure,
		255,
	}
	for _, tag := range unhandled {
		if isConnectionMessageTag(tag) {
			t.Errorf("tag %d is not dispatched by serverMux.handle but isConnectionMessageTag says yes", tag)
		}
	}
}

func openSessionChannel(t *testing.T, m *serverMux) {
	t.Helper()
	req := channelOpenMsg{ChanType: "session", PeersID: 0, PeersWindow: 1 << 20, MaxPacketSize: 1 << 15}
	if err := m.handle(msgChannelOpen, marshal(msgChannelOpen, req)); err != nil {
		t.Fatalf("openChannel: %v", err)
	}
}

func TestChannelOpenSessionConfirms(t *testing.T) {
	m, sentPtr := newTestMux(t, &Handlers{})
	openSessionChannel(t, m)

	sent := *sentPtr
	if len(sent) != 1 || sent[0].tag != msgChannelOpenConfirm {
		t.Fatalf("expected a single CHANNEL_OPEN_CONFIRMATION, got %#v", sent)
	}

	var confirm channelOpenConfirmMsg
	if err := unmarshalStruct(&confirm, sent[0].payload); err != nil {
		t.Fatalf("unmarshal confirm: %v", err)
	}
	if confirm.PeersID != 0 {
		t.Fatalf("PeersID = %d, want 0", confirm.PeersID)
	}
	if len(m.channels) != 1 {
		t.Fatalf("expected exactly one tracked channel, got %d", len(m.channels))
	}
}

func TestChannelOpenUnknownKindFails(t *testing.T) {
	m, sentPtr := newTestMux(t, &Handlers{})
	req := channelOpenMsg{ChanType: "x11", PeersID: 0, PeersWindow: 1 << 20, MaxPacketSize: 1 << 15}
	if err := m.handle(msgChannelOpen, marshal(msgChannelOpen, req)); err != nil {
		t.Fatalf("openChannel: %v", err)
	}

	sent := *sentPtr
	if len(sent) != 1 || sent[0].tag != msgChannelOpenFailure {
		t.Fatalf("expected a single CHANNEL_OPEN_FAILURE, got %#v", sent)
	}
	var fail channelOpenFailureMsg
	if err := unmarshalStruct(&fail, sent[0].payload); err != nil {
		t.Fatalf("unmarshal failure: %v", err)
	}
	if fail.Reason != ChannelOpenUnknownChannelType {
		t.Fatalf("Reason = %d, want %d", fail.Reason, ChannelOpenUnknownChannelType)
	}
	if len(m.channels) != 0 {
		t.Fatal("a rejected channel-open must not leave a tracked channel behind")
	}
}

// TestShellEchoExitSequence drives a full "shell" channel lifecycle
// through serverMux.handle without any transport or crypto underneath,
// asserting that the echo, exit-status, EOF and CLOSE spec.md §4.6
// requires are all sent once a handler returns (their order is not
// checked).
func TestShellEchoExitSequence(t *testing.T) {
	handlers := &Handlers{
		OnShell: func(ctx *ChannelContext) (uint32, error) {
			stdin, stdout, _ := ctx.TakeStdio()
			io.Copy(stdout, stdin)
			return 0, nil
		},
	}
	m, sentPtr := newTestMux(t, handlers)
	openSessionChannel(t, m)

	reqShell := channelRequestMsg{PeersID: 0, Request: "shell", WantReply: true}
	if err := m.handle(msgChannelRequest, marshal(msgChannelRequest, reqShell)); err != nil {
		t.Fatalf("shell request: %v", err)
	}

	data := channelDataMsg{PeersID: 0, Length: 5, Rest: []byte("hello")}
	if err := m.handle(msgChannelData, marshal(msgChannelData, data)); err != nil {
		t.Fatalf("channel data: %v", err)
	}

	eof := channelEOFMsg{PeersID: 0}
	if err := m.handle(msgChannelEOF, marshal(msgChannelEOF, eof)); err != nil {
		t.Fatalf("channel eof: %v", err)
	}

	m.wg.Wait()

	var gotEcho, gotExitStatus, gotEOF, gotClose, gotSuccess bool
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sent := append([]sentPacket{}, (*sentPtr)...)
		gotEcho, gotExitStatus, gotEOF, gotClose, gotSuccess = false, false, false, false, false
		for _, p := range sent {
			switch p.tag {
			case msgChannelData:
				var d channelDataMsg
				if unmarshalStruct(&d, p.payload) == nil && bytes.Contains(d.Rest, []byte("hello")) {
					gotEcho = true
				}
			case msgChannelRequest:
				var r channelRequestMsg
				if unmarshalStruct(&r, p.payload) == nil && r.Request == "exit-status" {
					gotExitStatus = true
				}
			case msgChannelEOF:
				gotEOF = true
			case msgChannelClose:
				gotClose = true
			case msgChannelSuccess:
				gotSuccess = true
			}
		}
		if gotEcho && gotExitStatus && gotEOF && gotClose {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !gotSuccess {
		t.Error("expected a CHANNEL_SUCCESS reply to the shell request")
	}
	if !gotEcho {
		t.Error("expected the echoed CHANNEL_DATA containing \"hello\"")
	}
	if !gotExitStatus {
		t.Error("expected an exit-status CHANNEL_REQUEST after the handler returned")
	}
	if !gotEOF {
		t.Error("expected a CHANNEL_EOF after exit-status")
	}
	if !gotClose {
		t.Error("expected a CHANNEL_CLOSE to finish the sequence")
	}
}
