package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ====================================================================================
// Session control
// ====================================================================================

type SessionControlKind int

const (
	Heartbeat SessionControlKind = 1
	Close     SessionControlKind = 16
	ClosedInd SessionControlKind = 64
)

// SessionControl is the only payload the session layer inspects itself.
type SessionControl struct {
	Kind SessionControlKind
}

func (*SessionControl) field() protowire.Number { return fieldSessionControl }

func (m *SessionControl) appendTo(b []byte) []byte {
	return appendBool(b, protowire.Number(m.Kind))
}

func (m *SessionControl) unmarshal(b []byte) error {
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch SessionControlKind(num) {
		case Heartbeat, Close, ClosedInd:
			m.Kind = SessionControlKind(num)
		}
		return 0, nil
	})
	if err == nil && m.Kind == 0 {
		return ErrEmptyBody
	}
	return err
}

// ====================================================================================
// Root session
// ====================================================================================

type RootSessionKind int

const (
	NewCommutatorSession RootSessionKind = 1
	CommutatorSession    RootSessionKind = 21
)

type RootSession struct {
	Kind      RootSessionKind
	SessionID uint32
}

func (*RootSession) field() protowire.Number { return fieldRootSession }

func (m *RootSession) appendTo(b []byte) []byte {
	switch m.Kind {
	case NewCommutatorSession:
		return appendBool(b, protowire.Number(m.Kind))
	case CommutatorSession:
		return appendUint(b, protowire.Number(m.Kind), uint64(m.SessionID))
	}
	return b
}

func (m *RootSession) unmarshal(b []byte) error {
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch RootSessionKind(num) {
		case NewCommutatorSession:
			m.Kind = NewCommutatorSession
		case CommutatorSession:
			x, n, err := consumeVarint(typ, v)
			m.Kind, m.SessionID = CommutatorSession, uint32(x)
			return n, err
		}
		return 0, nil
	})
	if err == nil && m.Kind == 0 {
		return ErrEmptyBody
	}
	return err
}

// ====================================================================================
// Access panel
// ====================================================================================

type AccessPanelKind int

const (
	Login          AccessPanelKind = 1
	AccessGranted  AccessPanelKind = 21
	AccessRejected AccessPanelKind = 22
)

type AccessPanel struct {
	Kind AccessPanelKind

	// Login
	Login    string
	Password string

	// AccessGranted
	Port      uint32
	SessionID uint32

	// AccessRejected
	Reason string
}

func (*AccessPanel) field() protowire.Number { return fieldAccessPanel }

func (m *AccessPanel) appendTo(b []byte) []byte {
	num := protowire.Number(m.Kind)
	switch m.Kind {
	case Login:
		var sub []byte
		if m.Login != "" {
			sub = appendString(sub, 1, m.Login)
		}
		if m.Password != "" {
			sub = appendString(sub, 2, m.Password)
		}
		return appendMessage(b, num, sub)
	case AccessGranted:
		var sub []byte
		if m.Port != 0 {
			sub = appendUint(sub, 1, uint64(m.Port))
		}
		if m.SessionID != 0 {
			sub = appendUint(sub, 2, uint64(m.SessionID))
		}
		return appendMessage(b, num, sub)
	case AccessRejected:
		return appendString(b, num, m.Reason)
	}
	return b
}

func (m *AccessPanel) unmarshal(b []byte) error {
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		kind := AccessPanelKind(num)
		switch kind {
		case Login, AccessGranted:
			sub, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			m.Kind = kind
			return n, eachField(sub, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
				switch {
				case kind == Login && (num == 1 || num == 2):
					s, n, err := consumeBytes(typ, v)
					if num == 1 {
						m.Login = string(s)
					} else {
						m.Password = string(s)
					}
					return n, err
				case kind == AccessGranted && (num == 1 || num == 2):
					x, n, err := consumeVarint(typ, v)
					if num == 1 {
						m.Port = uint32(x)
					} else {
						m.SessionID = uint32(x)
					}
					return n, err
				}
				return 0, nil
			})
		case AccessRejected:
			s, n, err := consumeBytes(typ, v)
			m.Kind, m.Reason = AccessRejected, string(s)
			return n, err
		}
		return 0, nil
	})
	if err == nil && m.Kind == 0 {
		return ErrEmptyBody
	}
	return err
}

// ====================================================================================
// Commutator
// ====================================================================================

type CommutatorKind int

const (
	TotalSlotsReq CommutatorKind = iota + 1
	ModuleInfoReq
	AllModulesInfoReq
	OpenTunnel
	CloseTunnel
	MonitorModules
	TotalSlots
	ModuleInfoReport
	OpenTunnelReport
	OpenTunnelFailed
	CloseTunnelStatus
	MonitorAck
	ModuleAttached
	ModuleDetached
)

var commutatorFields = map[CommutatorKind]protowire.Number{
	TotalSlotsReq:     1,
	ModuleInfoReq:     2,
	AllModulesInfoReq: 3,
	OpenTunnel:        4,
	CloseTunnel:       5,
	MonitorModules:    6,
	TotalSlots:        21,
	ModuleInfoReport:  22,
	OpenTunnelReport:  23,
	OpenTunnelFailed:  24,
	CloseTunnelStatus: 25,
	MonitorAck:        26,
	ModuleAttached:    27,
	ModuleDetached:    27,
}

const commutatorUpdateField protowire.Number = 27

type Status int32

const (
	StatusSuccess           Status = 0
	StatusInvalidSlot       Status = 1
	StatusModuleOffline     Status = 2
	StatusRejectedByModule  Status = 3
	StatusInvalidTunnel     Status = 4
	StatusCommutatorOffline Status = 5
	StatusTooManySessions   Status = 6
	StatusTunnelAlreadyOpen Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidSlot:
		return "INVALID_SLOT"
	case StatusModuleOffline:
		return "MODULE_OFFLINE"
	case StatusRejectedByModule:
		return "REJECTED_BY_MODULE"
	case StatusInvalidTunnel:
		return "INVALID_TUNNEL"
	case StatusCommutatorOffline:
		return "COMMUTATOR_OFFLINE"
	case StatusTooManySessions:
		return "TOO_MANY_SESSIONS"
	case StatusTunnelAlreadyOpen:
		return "TUNNEL_ALREADY_OPEN"
	default:
		return fmt.Sprintf("STATUS_%d", int32(s))
	}
}

type ModuleInfo struct {
	SlotID uint32
	Type   string
	Name   string
}

func (i ModuleInfo) appendTo(b []byte) []byte {
	if i.SlotID != 0 {
		b = appendUint(b, 1, uint64(i.SlotID))
	}
	if i.Type != "" {
		b = appendString(b, 2, i.Type)
	}
	if i.Name != "" {
		b = appendString(b, 3, i.Name)
	}
	return b
}

func (i *ModuleInfo) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			x, n, err := consumeVarint(typ, v)
			i.SlotID = uint32(x)
			return n, err
		case 2, 3:
			s, n, err := consumeBytes(typ, v)
			if num == 2 {
				i.Type = string(s)
			} else {
				i.Name = string(s)
			}
			return n, err
		}
		return 0, nil
	})
}

// Commutator carries one commutator request or response. Value holds the slot or tunnel id,
// the slot count or the monitored slot, depending on Kind.
type Commutator struct {
	Kind   CommutatorKind
	Value  uint32
	Status Status
	Info   ModuleInfo
}

func (*Commutator) field() protowire.Number { return fieldCommutator }

func (m *Commutator) appendTo(b []byte) []byte {
	num, ok := commutatorFields[m.Kind]
	if !ok {
		return b
	}
	switch m.Kind {
	case TotalSlotsReq, AllModulesInfoReq, MonitorModules:
		return appendBool(b, num)
	case ModuleInfoReq, OpenTunnel, CloseTunnel, TotalSlots, OpenTunnelReport:
		return appendUint(b, num, uint64(m.Value))
	case OpenTunnelFailed, CloseTunnelStatus, MonitorAck:
		return appendUint(b, num, uint64(m.Status))
	case ModuleInfoReport:
		return appendMessage(b, num, m.Info.appendTo(nil))
	case ModuleAttached:
		return appendMessage(b, num, appendMessage(nil, 1, m.Info.appendTo(nil)))
	case ModuleDetached:
		return appendMessage(b, num, appendUint(nil, 2, uint64(m.Value)))
	}
	return b
}

func (m *Commutator) unmarshal(b []byte) error {
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			m.Kind = TotalSlotsReq
		case 3:
			m.Kind = AllModulesInfoReq
		case 6:
			m.Kind = MonitorModules
		case 2, 4, 5, 21, 23:
			x, n, err := consumeVarint(typ, v)
			m.Kind, m.Value = kindOfValueField(num), uint32(x)
			return n, err
		case 24, 25, 26:
			x, n, err := consumeVarint(typ, v)
			m.Kind, m.Status = kindOfValueField(num), Status(x)
			return n, err
		case 22:
			sub, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			m.Kind = ModuleInfoReport
			return n, m.Info.unmarshal(sub)
		case commutatorUpdateField:
			sub, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			return n, m.unmarshalUpdate(sub)
		}
		return 0, nil
	})
	if err == nil && m.Kind == 0 {
		return ErrEmptyBody
	}
	return err
}

func (m *Commutator) unmarshalUpdate(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			sub, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			m.Kind = ModuleAttached
			return n, m.Info.unmarshal(sub)
		case 2:
			x, n, err := consumeVarint(typ, v)
			m.Kind, m.Value = ModuleDetached, uint32(x)
			return n, err
		}
		return 0, nil
	})
}

func kindOfValueField(num protowire.Number) CommutatorKind {
	for kind, n := range commutatorFields {
		if n == num && kind != ModuleAttached && kind != ModuleDetached {
			return kind
		}
	}
	return 0
}

// ====================================================================================
// System clock
// ====================================================================================

type SystemClockKind int

const (
	ClockTimeReq   SystemClockKind = 1
	ClockWaitUntil SystemClockKind = 2
	ClockWaitFor   SystemClockKind = 3
	ClockMonitor   SystemClockKind = 4
	ClockTime      SystemClockKind = 21
	ClockRing      SystemClockKind = 22
)

// SystemClock carries in-game times in microseconds; for ClockMonitor Value is the period in
// milliseconds.
type SystemClock struct {
	Kind  SystemClockKind
	Value uint64
}

func (*SystemClock) field() protowire.Number { return fieldSystemClock }

func (m *SystemClock) appendTo(b []byte) []byte {
	switch m.Kind {
	case ClockTimeReq:
		return appendBool(b, protowire.Number(m.Kind))
	case ClockWaitUntil, ClockWaitFor, ClockMonitor, ClockTime, ClockRing:
		return appendUint(b, protowire.Number(m.Kind), m.Value)
	}
	return b
}

func (m *SystemClock) unmarshal(b []byte) error {
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch kind := SystemClockKind(num); kind {
		case ClockTimeReq:
			m.Kind = kind
		case ClockWaitUntil, ClockWaitFor, ClockMonitor, ClockTime, ClockRing:
			x, n, err := consumeVarint(typ, v)
			m.Kind, m.Value = kind, x
			return n, err
		}
		return 0, nil
	})
	if err == nil && m.Kind == 0 {
		return ErrEmptyBody
	}
	return err
}
