package modules

import (
	"errors"
	"testing"

	"github.com/QYUbit/Expanse/pkg/conveyor"
	"github.com/QYUbit/Expanse/pkg/wire"
)

// TestTunnelEndToEnd tests that a frame sent on a freshly opened tunnel lands in the module's
// queue and is handled only by the next message stage.
func TestTunnelEndToEnd(t *testing.T) {
	r := newCommutatorRig(t, 5)

	commutators := NewRegistry[*Commutator](4)
	commutators.Add(r.comm)
	beacons := NewRegistry[*beacon](8)
	for _, p := range r.beacons {
		beacons.Add(p)
	}

	conv := conveyor.New(2)
	defer conv.Close()
	conv.AddLogicToChain(NewCommutatorManager(commutators))
	conv.AddLogicToChain(NewManager(beacons, CooldownDefault))

	r.request(r.root, wire.OpenTunnel, 3)
	if len(r.out.commutator(r.root)) != 0 {
		t.Fatal("request handled before the tick")
	}
	conv.Proceed(20000)

	reply := r.out.lastCommutator(t, r.root)
	if reply.Kind != wire.OpenTunnelReport {
		t.Fatalf("reply = %+v", reply)
	}
	tunnel := reply.Value
	if !r.mux.IsValid(tunnel) || !r.beacons[3].IsOpened(tunnel) {
		t.Fatal("tunnel is not open on module 3")
	}

	r.mux.OnMessageReceived(0, &wire.Frame{TunnelID: tunnel, Body: &wire.Opaque{Field: 17, Data: []byte{1}}})
	if !r.beacons[3].HasBufferedMessages() {
		t.Fatal("frame did not reach the queue of module 3")
	}
	if r.beacons[3].handled.Load() != 0 {
		t.Fatal("frame handled synchronously")
	}

	conv.Proceed(20000)
	for i, p := range r.beacons {
		want := int32(0)
		if i == 3 {
			want = 1
		}
		if p.handled.Load() != want {
			t.Errorf("beacon %d handled %d frames", i, p.handled.Load())
		}
	}
}

// TestOpenTunnelFailures tests the typed statuses of refused tunnels.
func TestOpenTunnelFailures(t *testing.T) {
	r := newCommutatorRig(t, 5)

	if got := r.openTunnel(t, r.root, 9); got.Kind != wire.OpenTunnelFailed || got.Status != wire.StatusInvalidSlot {
		t.Errorf("invalid slot: %+v", got)
	}

	r.beacons[1].PutOffline()
	if got := r.openTunnel(t, r.root, 1); got.Status != wire.StatusModuleOffline {
		t.Errorf("offline module: %+v", got)
	}

	if got := r.openTunnel(t, r.root, 3); got.Kind != wire.OpenTunnelReport {
		t.Fatalf("first open: %+v", got)
	}
	if got := r.openTunnel(t, r.root, 3); got.Kind != wire.OpenTunnelFailed || got.Status != wire.StatusTunnelAlreadyOpen {
		t.Errorf("second open: %+v", got)
	}

	r.beacons[2].SetSessionLimit(1)
	if got := r.openTunnel(t, r.root, 2); got.Kind != wire.OpenTunnelReport {
		t.Fatalf("open below limit: %+v", got)
	}
	other, err := r.mux.CreateSession(r.root, r.comm)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.openTunnel(t, other, 2); got.Status != wire.StatusTooManySessions {
		t.Errorf("open above limit: %+v", got)
	}

	r.comm.PutOffline()
	if got := r.openTunnel(t, r.root, 4); got.Status != wire.StatusCommutatorOffline {
		t.Errorf("offline commutator: %+v", got)
	}
}

// TestCloseTunnel tests explicit tunnel teardown.
func TestCloseTunnel(t *testing.T) {
	r := newCommutatorRig(t, 2)
	tunnel := r.openTunnel(t, r.root, 1).Value

	r.request(r.root, wire.CloseTunnel, tunnel)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, r.root); got.Kind != wire.CloseTunnelStatus || got.Status != wire.StatusSuccess {
		t.Fatalf("close: %+v", got)
	}
	if r.mux.IsValid(tunnel) || r.beacons[1].HasOpenedSessions() {
		t.Fatal("tunnel still open")
	}

	r.request(r.root, wire.CloseTunnel, tunnel)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, r.root); got.Status != wire.StatusInvalidTunnel {
		t.Errorf("second close: %+v", got)
	}

	// the root session is not a tunnel
	r.request(r.root, wire.CloseTunnel, r.root)
	r.comm.HandleBufferedMessages()
	if !r.mux.IsValid(r.root) {
		t.Error("close_tunnel closed the root session")
	}
}

// TestSlotQueries tests the informational requests.
func TestSlotQueries(t *testing.T) {
	r := newCommutatorRig(t, 3)

	r.request(r.root, wire.TotalSlotsReq, 0)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, r.root); got.Kind != wire.TotalSlots || got.Value != 3 {
		t.Errorf("total slots: %+v", got)
	}

	r.request(r.root, wire.ModuleInfoReq, 7)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, r.root); got.Info.Type != emptySlotType || got.Info.SlotID != 7 {
		t.Errorf("empty slot info: %+v", got)
	}

	r.out.reset()
	r.request(r.root, wire.AllModulesInfoReq, 0)
	r.comm.HandleBufferedMessages()
	infos := r.out.commutator(r.root)
	if len(infos) != 3 {
		t.Fatalf("got %d module infos, want 3", len(infos))
	}
	for i, info := range infos {
		if info.Kind != wire.ModuleInfoReport || info.Info.SlotID != uint32(i) || info.Info.Type != "Beacon" {
			t.Errorf("info %d: %+v", i, info)
		}
	}

	if m, ok := r.comm.FindByType("Beacon"); !ok || m != Module(r.beacons[0]) {
		t.Error("FindByType did not return the first beacon")
	}
	if _, ok := r.comm.FindByName("missing"); ok {
		t.Error("FindByName found a missing module")
	}
}

// TestCheckSlots tests that offline modules lose their sessions and destroyed ones their slot.
func TestCheckSlots(t *testing.T) {
	r := newCommutatorRig(t, 3)

	r.request(r.root, wire.MonitorModules, 0)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, r.root); got.Kind != wire.MonitorAck || got.Status != wire.StatusSuccess {
		t.Fatalf("monitor: %+v", got)
	}

	offline := r.openTunnel(t, r.root, 0).Value
	destroyed := r.openTunnel(t, r.root, 2).Value

	r.beacons[0].PutOffline()
	r.beacons[2].Destroy()
	r.comm.CheckSlots()

	if r.mux.IsValid(offline) || r.mux.IsValid(destroyed) {
		t.Fatal("tunnels of unavailable modules survived")
	}
	if _, ok := r.comm.ModuleInSlot(0); !ok {
		t.Error("offline module lost its slot")
	}
	if _, ok := r.comm.ModuleInSlot(2); ok {
		t.Error("destroyed module kept its slot")
	}
	if got := r.out.lastCommutator(t, r.root); got.Kind != wire.ModuleDetached || got.Value != 2 {
		t.Errorf("detach update: %+v", got)
	}

	fresh := newBeacon("fresh", r.clock)
	if slot := r.comm.Attach(fresh); slot != 2 {
		t.Fatalf("fresh module got slot %d, want 2", slot)
	}
	if got := r.out.lastCommutator(t, r.root); got.Kind != wire.ModuleAttached || got.Info.SlotID != 2 || got.Info.Name != "fresh" {
		t.Errorf("attach update: %+v", got)
	}
}

// TestDetach tests detaching errors and session cleanup.
func TestDetach(t *testing.T) {
	r := newCommutatorRig(t, 2)
	tunnel := r.openTunnel(t, r.root, 1).Value

	if err := r.comm.Detach(5, r.beacons[1]); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("err = %v, want ErrInvalidSlot", err)
	}
	if err := r.comm.Detach(0, r.beacons[1]); !errors.Is(err, ErrUnexpectedModule) {
		t.Errorf("err = %v, want ErrUnexpectedModule", err)
	}
	if err := r.comm.Detach(1, r.beacons[1]); err != nil {
		t.Fatal(err)
	}

	if r.mux.IsValid(tunnel) {
		t.Error("tunnel of a detached module survived")
	}
	if r.beacons[1].Channel() != nil {
		t.Error("detached module still has a channel")
	}
}

// TestMonitorLimit tests that at most MonitorLimit sessions monitor a commutator.
func TestMonitorLimit(t *testing.T) {
	r := newCommutatorRig(t, 1)
	r.comm.SetSessionLimit(MonitorLimit + 2)

	sessions := []uint32{r.root}
	for i := 0; i < MonitorLimit; i++ {
		id, err := r.mux.CreateSession(r.root, r.comm)
		if err != nil {
			t.Fatal(err)
		}
		sessions = append(sessions, id)
	}

	for i, id := range sessions {
		r.request(id, wire.MonitorModules, 0)
		r.comm.HandleBufferedMessages()
		want := wire.StatusSuccess
		if i == MonitorLimit {
			want = wire.StatusTooManySessions
		}
		if got := r.out.lastCommutator(t, id); got.Status != want {
			t.Errorf("monitor %d: %v, want %v", i, got.Status, want)
		}
	}

	// a closed monitor frees its place
	r.mux.CloseSession(sessions[1])
	r.request(sessions[MonitorLimit], wire.MonitorModules, 0)
	r.comm.HandleBufferedMessages()
	if got := r.out.lastCommutator(t, sessions[MonitorLimit]); got.Status != wire.StatusSuccess {
		t.Errorf("monitor after close: %v", got.Status)
	}
}
