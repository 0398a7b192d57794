package network

import (
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	zapadapter "github.com/QYUbit/Expanse/pkg/axlog/zap_adapter"
	"github.com/QYUbit/Expanse/pkg/wire"
)

func newTestMux(t *testing.T) (*SessionMux, *recordingChannel, *manualClock) {
	t.Helper()
	clk := &manualClock{}
	mux := NewSessionMux(4, clk, WithLiveness(400*time.Millisecond, 2*time.Second))
	ch := &recordingChannel{}
	mux.AttachToChannel(ch)
	return mux, ch, clk
}

// TestTokenSafety tests that a reused slot never honors ids of its earlier occupants
func TestTokenSafety(t *testing.T) {
	mux, _, _ := newTestMux(t)
	root := newRecordingTerminal()
	rootID, err := mux.AddConnection(0, root)
	if err != nil {
		t.Fatal(err)
	}

	const cycles = 2000
	seen := make(map[uint32]bool, cycles)
	var slot uint16
	var previous uint32
	handler := newRecordingTerminal()

	for i := 0; i < cycles; i++ {
		id, err := mux.CreateSession(rootID, handler)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}

		index, token := SplitSessionID(id)
		if token == 0 {
			t.Fatalf("cycle %d: zero token", i)
		}
		if i == 0 {
			slot = index
		} else if index != slot {
			t.Fatalf("cycle %d: expected slot %d to be reused, got %d", i, slot, index)
		}
		if seen[id] {
			t.Fatalf("cycle %d: session id %#x issued twice", i, id)
		}
		seen[id] = true

		if previous != 0 {
			if mux.Send(previous, payload(0)) {
				t.Fatalf("cycle %d: send on stale id succeeded", i)
			}
			mux.OnMessageReceived(0, payload(previous))
			if handler.count(id) != 0 || handler.count(previous) != 1 {
				t.Fatalf("cycle %d: stale frame reached the new occupant", i)
			}
		}

		mux.OnMessageReceived(0, payload(id))
		if !mux.CloseSession(id) {
			t.Fatalf("cycle %d: close failed", i)
		}
		if mux.CloseSession(id) {
			t.Fatalf("cycle %d: double close succeeded", i)
		}
		previous = id
	}
}

// TestCascadingClose tests that closing the root session tears down the whole connection
func TestCascadingClose(t *testing.T) {
	mux, ch, _ := newTestMux(t)

	root := newRecordingTerminal()
	h := newRecordingTerminal()

	rootID, _ := mux.AddConnection(1, root)
	a, _ := mux.CreateSession(rootID, h)
	b, _ := mux.CreateSession(a, h)
	c, _ := mux.CreateSession(rootID, h)

	other, _ := mux.AddConnection(2, root)
	d, _ := mux.CreateSession(other, h)

	if !mux.CloseSession(rootID) {
		t.Fatal("root close failed")
	}

	if got := root.closedIDs(); !slices.Equal(got, []uint32{rootID}) {
		t.Errorf("Expected root handler to see %v, got %v", []uint32{rootID}, got)
	}
	if got := h.closedIDs(); !slices.Equal(got, []uint32{a, b, c}) {
		t.Errorf("Expected sessions closed in opening order %v, got %v", []uint32{a, b, c}, got)
	}
	if got := ch.control(wire.ClosedInd); !slices.Equal(got, []uint32{rootID, a, b, c}) {
		t.Errorf("Expected close indications %v, got %v", []uint32{rootID, a, b, c}, got)
	}
	if !slices.Equal(ch.closed, []uint32{1}) {
		t.Errorf("Expected connection 1 closed, got %v", ch.closed)
	}

	for _, id := range []uint32{rootID, a, b, c} {
		if mux.Send(id, payload(0)) {
			t.Errorf("send to closed session %#x succeeded", id)
		}
		mux.OnMessageReceived(1, payload(id))
		if h.count(id) != 0 || root.count(id) != 0 {
			t.Errorf("frame delivered to closed session %#x", id)
		}
	}

	if !mux.IsValid(d) || !mux.Send(d, payload(0)) {
		t.Error("session of another connection was affected")
	}
	if mux.Connections() != 1 {
		t.Errorf("Expected 1 connection left, got %d", mux.Connections())
	}
}

// TestCloseSubtree tests that closing a tunnel closes its children before itself and leaves its
// siblings open
func TestCloseSubtree(t *testing.T) {
	mux, ch, _ := newTestMux(t)
	h := newRecordingTerminal()

	rootID, _ := mux.AddConnection(0, h)
	a, _ := mux.CreateSession(rootID, h)
	b, _ := mux.CreateSession(a, h)
	d, _ := mux.CreateSession(b, h)
	e, _ := mux.CreateSession(a, h)
	c, _ := mux.CreateSession(rootID, h)

	mux.CloseSession(a)

	want := []uint32{d, b, e, a}
	if got := h.closedIDs(); !slices.Equal(got, want) {
		t.Errorf("Expected %v closed, got %v", want, got)
	}
	if got := ch.control(wire.ClosedInd); !slices.Equal(got, want) {
		t.Errorf("Expected close indications for %v, got %v", want, got)
	}
	if !mux.IsValid(rootID) || !mux.IsValid(c) {
		t.Error("siblings were closed")
	}
	if len(ch.closed) != 0 {
		t.Errorf("connection closed: %v", ch.closed)
	}
}

// TestInboundClose tests the session control close request of a client
func TestInboundClose(t *testing.T) {
	mux, _, _ := newTestMux(t)
	h := newRecordingTerminal()

	rootID, _ := mux.AddConnection(0, h)
	a, _ := mux.CreateSession(rootID, h)
	otherRoot, _ := mux.AddConnection(1, h)

	closeFrame := func(id uint32) *wire.Frame {
		return &wire.Frame{TunnelID: id, Body: &wire.SessionControl{Kind: wire.Close}}
	}

	// a session can only be closed from its own connection
	mux.OnMessageReceived(1, closeFrame(a))
	if !mux.IsValid(a) {
		t.Fatal("session closed from a foreign connection")
	}

	mux.OnMessageReceived(0, closeFrame(a))
	if mux.IsValid(a) {
		t.Error("session survived close request")
	}
	if h.count(a) != 0 {
		t.Error("session control frame was delivered to the handler")
	}

	mux.OnMessageReceived(1, payload(rootID))
	if h.count(rootID) != 0 {
		t.Error("frame crossed connections")
	}
	mux.OnMessageReceived(1, payload(otherRoot))
	if h.count(otherRoot) != 1 {
		t.Error("frame on own connection was not delivered")
	}
}

func TestConnectionErrors(t *testing.T) {
	mux, _, _ := newTestMux(t)
	h := newRecordingTerminal()

	if _, err := mux.AddConnection(4, h); !errors.Is(err, ErrInvalidConnection) {
		t.Errorf("Expected ErrInvalidConnection, got %v", err)
	}
	if _, err := mux.AddConnection(0, h); err != nil {
		t.Fatal(err)
	}
	if _, err := mux.AddConnection(0, h); !errors.Is(err, ErrConnectionInUse) {
		t.Errorf("Expected ErrConnectionInUse, got %v", err)
	}
	if _, err := mux.CreateSession(0x00010000, h); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession, got %v", err)
	}
	if mux.OpenSession(0) || !mux.OpenSession(1) {
		t.Error("OpenSession reported wrong availability")
	}

	detached := NewSessionMux(1, &manualClock{})
	if _, err := detached.AddConnection(0, h); !errors.Is(err, ErrChannelDetached) {
		t.Errorf("Expected ErrChannelDetached, got %v", err)
	}
	if len(h.opened) != 1 {
		t.Errorf("handler saw %d sessions, want 1", len(h.opened))
	}
}

// TestRejectedSession tests that a refusing handler frees the slot again
func TestRejectedSession(t *testing.T) {
	mux, ch, _ := newTestMux(t)
	h := newRecordingTerminal()
	rootID, _ := mux.AddConnection(0, h)

	picky := newRecordingTerminal()
	picky.reject = true
	if _, err := mux.CreateSession(rootID, picky); !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("Expected ErrSessionRejected, got %v", err)
	}
	if mux.Sessions() != 1 {
		t.Errorf("Expected only the root session, got %d", mux.Sessions())
	}
	if len(ch.control(wire.ClosedInd)) != 0 {
		t.Error("rejected session produced a close indication")
	}
}

// TestSendStamps tests that outgoing frames carry the session id and the in-game time
func TestSendStamps(t *testing.T) {
	mux, ch, clk := newTestMux(t)
	h := newRecordingTerminal()
	rootID, _ := mux.AddConnection(3, h)

	clk.set(123456)
	if !mux.Channel().Send(rootID, payload(0)) {
		t.Fatal("send failed")
	}

	last := ch.sent[len(ch.sent)-1]
	if last.connID != 3 || last.frame.TunnelID != rootID || last.frame.Timestamp != 123456 {
		t.Errorf("unexpected frame %+v on connection %d", last.frame, last.connID)
	}
}

// TestLiveness tests heartbeats on quiet connections and closure of silent ones
func TestLiveness(t *testing.T) {
	mux, ch, clk := newTestMux(t)
	h := newRecordingTerminal()
	rootID, _ := mux.AddConnection(0, h)

	clk.advance(300_000)
	mux.CheckLiveness()
	if n := len(ch.control(wire.Heartbeat)); n != 0 {
		t.Fatalf("Expected no heartbeat yet, got %d", n)
	}

	clk.advance(200_000)
	mux.CheckLiveness()
	if got := ch.control(wire.Heartbeat); !slices.Equal(got, []uint32{rootID}) {
		t.Fatalf("Expected one heartbeat on the root session, got %v", got)
	}

	clk.advance(100_000)
	mux.CheckLiveness()
	if n := len(ch.control(wire.Heartbeat)); n != 1 {
		t.Fatalf("heartbeat repeated too early: %d", n)
	}

	// inbound traffic resets the silence
	mux.OnMessageReceived(0, &wire.Frame{TunnelID: rootID, Body: &wire.SessionControl{Kind: wire.Heartbeat}})
	clk.advance(1_900_000)
	mux.CheckLiveness()
	if !mux.IsValid(rootID) {
		t.Fatal("connection closed before the inactivity timeout")
	}

	clk.advance(200_000)
	mux.CheckLiveness()
	if mux.IsValid(rootID) {
		t.Fatal("silent connection survived")
	}
	if !slices.Equal(ch.closed, []uint32{0}) {
		t.Errorf("Expected connection 0 closed, got %v", ch.closed)
	}
}

// TestCloseNotifiesOnce tests the notifications of a root close with mocks
func TestCloseNotifiesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)

	clk := &manualClock{}
	mux := NewSessionMux(2, clk)

	ch := NewMockChannel[*wire.Frame](ctrl)
	term := NewMockTerminal[*wire.Frame](ctrl)
	mux.AttachToChannel(ch)

	term.EXPECT().OpenSession(gomock.Any()).Return(true).Times(2)
	rootID, err := mux.AddConnection(1, term)
	if err != nil {
		t.Fatal(err)
	}
	child, err := mux.CreateSession(rootID, term)
	if err != nil {
		t.Fatal(err)
	}

	gomock.InOrder(
		ch.EXPECT().Send(uint32(1), gomock.Any()).Return(true),
		term.EXPECT().OnSessionClosed(rootID),
		ch.EXPECT().Send(uint32(1), gomock.Any()).Return(true),
		term.EXPECT().OnSessionClosed(child),
		ch.EXPECT().CloseSession(uint32(1)),
	)

	mux.OnSessionClosed(1)
	mux.OnSessionClosed(1)
}

// TestSendRefused tests that a frame the connection refuses fails the send without closing the
// session and is logged
func TestSendRefused(t *testing.T) {
	ctrl := gomock.NewController(t)
	core, logs := observer.New(zapcore.WarnLevel)

	mux := NewSessionMux(1, &manualClock{}, WithMuxLogger(zapadapter.New(zap.New(core))))
	ch := NewMockChannel[*wire.Frame](ctrl)
	mux.AttachToChannel(ch)

	rootID, err := mux.AddConnection(0, newRecordingTerminal())
	if err != nil {
		t.Fatal(err)
	}

	gomock.InOrder(
		ch.EXPECT().Send(uint32(0), gomock.Any()).Return(false),
		ch.EXPECT().Send(uint32(0), gomock.Any()).Return(true),
	)

	if mux.Send(rootID, payload(0)) {
		t.Error("refused frame reported as sent")
	}
	if !mux.IsValid(rootID) {
		t.Error("refused frame closed the session")
	}
	if n := logs.FilterMessage("connection refused frame").Len(); n != 1 {
		t.Errorf("Expected 1 warning, got %d", n)
	}

	if !mux.Send(rootID, payload(0)) {
		t.Error("send failed after the connection recovered")
	}
	if n := logs.Len(); n != 1 {
		t.Errorf("Expected no further warnings, got %d entries", n)
	}
}

// TestUpkeepLogic tests the liveness checks driven through the conveyor interface
func TestUpkeepLogic(t *testing.T) {
	u := NewUpkeep()
	if u.Prepare(0, 0, 0) {
		t.Error("Prepare accepted an empty upkeep")
	}

	var muxes []*SessionMux
	var channels []*recordingChannel
	clk := &manualClock{}
	for i := 0; i < 3; i++ {
		m := NewSessionMux(1, clk)
		ch := &recordingChannel{}
		m.AttachToChannel(ch)
		if _, err := m.AddConnection(0, newRecordingTerminal()); err != nil {
			t.Fatal(err)
		}
		u.Add(m)
		muxes = append(muxes, m)
		channels = append(channels, ch)
	}

	clk.advance(uint64(DefaultHeartbeatAfter.Microseconds()))
	if !u.Prepare(0, 0, 0) {
		t.Fatal("Prepare refused")
	}
	u.Proceed(0, 0, 0)
	u.Proceed(0, 0, 0)

	for i, ch := range channels {
		if n := len(ch.control(wire.Heartbeat)); n != 1 {
			t.Errorf("mux %d: expected 1 heartbeat, got %d", i, n)
		}
	}
}
