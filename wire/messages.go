package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/plugwise/stick-go/errs"
)

// NodeType identifies the hardware variant reported in a
// NodeInfoResponse, driving which concrete node.Node implementation
// the registry constructs.
type NodeType uint8

const (
	NodeTypeCirclePlus NodeType = 0
	NodeTypeCircle     NodeType = 1
	NodeTypeSwitch     NodeType = 2 // unsupported: battery switch
	NodeTypeSense      NodeType = 3
	NodeTypeScan       NodeType = 5
	NodeTypeCelsius    NodeType = 6 // unsupported: thermostat valve
	NodeTypeStealth    NodeType = 9
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeCirclePlus:
		return "circle_plus"
	case NodeTypeCircle:
		return "circle"
	case NodeTypeSwitch:
		return "switch"
	case NodeTypeSense:
		return "sense"
	case NodeTypeScan:
		return "scan"
	case NodeTypeCelsius:
		return "celsius"
	case NodeTypeStealth:
		return "stealth"
	default:
		return "unsupported"
	}
}

// --- stick init ---

// StickInitRequest carries no payload; the request exists only as a
// Frame{CmdID: CmdStickInitRequest}.
type StickInitRequest struct{}

func EncodeStickInitRequest(seqID uint16) Frame {
	return Frame{CmdID: CmdStickInitRequest, SeqID: seqID}
}

// StickInitResponse reports whether the stick is connected to a
// network and, if so, the coordinator's MAC.
type StickInitResponse struct {
	Connected     bool
	NetworkOnline bool
	CirclePlusMAC string
	NetworkID     uint16
}

func DecodeStickInitResponse(f Frame) (StickInitResponse, error) {
	if len(f.Payload) < 12 {
		return StickInitResponse{}, fmt.Errorf("%w: stick init response too short", errs.MalformedFrame)
	}
	resp := StickInitResponse{
		Connected:     f.Payload[0] != 0,
		NetworkOnline: f.Payload[1] != 0,
		NetworkID:     binary.BigEndian.Uint16(f.Payload[2:4]),
	}
	mac := macFromBytes(f.Payload[4:12])
	resp.CirclePlusMAC = coordinatorMAC(mac)
	return resp, nil
}

// coordinatorMAC replaces the first two hex characters of a reported
// MAC with "00", matching the stick's convention of addressing its
// coordinator through a fixed virtual prefix.
func coordinatorMAC(mac string) string {
	if len(mac) < 2 {
		return mac
	}
	return "00" + mac[2:]
}

func macFromBytes(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0xF])
	}
	return string(out)
}

// --- node info ---

type NodeInfoRequest struct{ MAC string }

func EncodeNodeInfoRequest(seqID uint16, mac string) Frame {
	return Frame{CmdID: CmdNodeInfoRequest, SeqID: seqID, MAC: mac}
}

type NodeInfoResponse struct {
	MAC               string
	NodeType          NodeType
	Available         bool
	RelayState        bool
	CurrentLogAddress uint32
}

func DecodeNodeInfoResponse(f Frame) (NodeInfoResponse, error) {
	if len(f.Payload) < 7 {
		return NodeInfoResponse{}, fmt.Errorf("%w: node info response too short", errs.MalformedFrame)
	}
	return NodeInfoResponse{
		MAC:               f.MAC,
		NodeType:          NodeType(f.Payload[0]),
		Available:         f.Payload[1] != 0,
		RelayState:        f.Payload[2] != 0,
		CurrentLogAddress: binary.BigEndian.Uint32(f.Payload[3:7]),
	}, nil
}

// --- ping ---

func EncodeNodePingRequest(seqID uint16, mac string) Frame {
	return Frame{CmdID: CmdNodePingRequest, SeqID: seqID, MAC: mac}
}

type NodePingResponse struct {
	MAC        string
	RTTMillis  uint16
	RSSIOut    uint8
	RSSIIn     uint8
}

func DecodeNodePingResponse(f Frame) (NodePingResponse, error) {
	if len(f.Payload) < 4 {
		return NodePingResponse{}, fmt.Errorf("%w: ping response too short", errs.MalformedFrame)
	}
	return NodePingResponse{
		MAC:       f.MAC,
		RTTMillis: binary.BigEndian.Uint16(f.Payload[0:2]),
		RSSIOut:   f.Payload[2],
		RSSIIn:    f.Payload[3],
	}, nil
}

// --- join / add / remove ---

type NodeAddRequest struct {
	MAC    string
	Accept bool
}

func EncodeNodeAddRequest(seqID uint16, r NodeAddRequest) Frame {
	payload := []byte{0}
	if r.Accept {
		payload[0] = 1
	}
	return Frame{CmdID: CmdNodeAddRequest, SeqID: seqID, MAC: r.MAC, Payload: payload}
}

type NodeAllowJoiningRequest struct{ Enable bool }

func EncodeNodeAllowJoiningRequest(seqID uint16, enable bool) Frame {
	payload := []byte{0}
	if enable {
		payload[0] = 1
	}
	return Frame{CmdID: CmdNodeAllowJoiningRequest, SeqID: seqID, Payload: payload}
}

// NodeJoinAvailableResponse is an unsolicited notification that a new
// node is requesting to join the network.
type NodeJoinAvailableResponse struct{ MAC string }

func DecodeNodeJoinAvailableResponse(f Frame) (NodeJoinAvailableResponse, error) {
	return NodeJoinAvailableResponse{MAC: f.MAC}, nil
}

type NodeRemoveRequest struct{ MAC string }

func EncodeNodeRemoveRequest(seqID uint16, mac string) Frame {
	return Frame{CmdID: CmdNodeRemoveRequest, SeqID: seqID, MAC: mac}
}

type NodeRemoveResponse struct {
	MAC     string
	Removed bool
}

func DecodeNodeRemoveResponse(f Frame) (NodeRemoveResponse, error) {
	if len(f.Payload) < 1 {
		return NodeRemoveResponse{}, fmt.Errorf("%w: node remove response too short", errs.MalformedFrame)
	}
	return NodeRemoveResponse{MAC: f.MAC, Removed: f.Payload[0] != 0}, nil
}

// --- generic ack envelope ---

// NodeAckResponse is the generic acknowledgement carried by
// CmdNodeAckResponse/CmdNodeAckLargeResponse: a status code for
// whichever request the seq id correlates to.
type NodeAckResponse struct {
	MAC  string
	Code AckCode
}

func DecodeNodeAckResponse(f Frame) (NodeAckResponse, error) {
	if len(f.Payload) < 2 {
		return NodeAckResponse{}, fmt.Errorf("%w: ack response too short", errs.MalformedFrame)
	}
	return NodeAckResponse{MAC: f.MAC, Code: AckCode(binary.BigEndian.Uint16(f.Payload[0:2]))}, nil
}

// --- circle / circle+ feature messages ---

type CircleSwitchRelayRequest struct {
	MAC string
	On  bool
}

func EncodeCircleSwitchRelayRequest(seqID uint16, r CircleSwitchRelayRequest) Frame {
	payload := []byte{0}
	if r.On {
		payload[0] = 1
	}
	return Frame{CmdID: CmdCircleSwitchRelayRequest, SeqID: seqID, MAC: r.MAC, Payload: payload}
}

func EncodeCirclePowerUsageRequest(seqID uint16, mac string) Frame {
	return Frame{CmdID: CmdCirclePowerUsageRequest, SeqID: seqID, MAC: mac}
}

// CirclePowerUsageResponse carries raw pulse counters for three
// rolling windows; node.Node implementations convert pulses to watts.
type CirclePowerUsageResponse struct {
	MAC        string
	Pulses8s   uint32
	Pulses1h   uint32
	Pulses24h  uint32
}

func DecodeCirclePowerUsageResponse(f Frame) (CirclePowerUsageResponse, error) {
	if len(f.Payload) < 12 {
		return CirclePowerUsageResponse{}, fmt.Errorf("%w: power usage response too short", errs.MalformedFrame)
	}
	return CirclePowerUsageResponse{
		MAC:       f.MAC,
		Pulses8s:  binary.BigEndian.Uint32(f.Payload[0:4]),
		Pulses1h:  binary.BigEndian.Uint32(f.Payload[4:8]),
		Pulses24h: binary.BigEndian.Uint32(f.Payload[8:12]),
	}, nil
}

type CircleClockSetRequest struct {
	MAC       string
	UnixTime  uint32
}

func EncodeCircleClockSetRequest(seqID uint16, r CircleClockSetRequest) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, r.UnixTime)
	return Frame{CmdID: CmdCircleClockSetRequest, SeqID: seqID, MAC: r.MAC, Payload: payload}
}

func EncodeCircleScanRequest(seqID uint16, circlePlusMAC string, index uint8) Frame {
	return Frame{CmdID: CmdCircleScanRequest, SeqID: seqID, MAC: circlePlusMAC, Payload: []byte{index}}
}

// CircleScanResponse reports one slot of the Circle+ association
// table. An empty MAC means the slot is unoccupied.
type CircleScanResponse struct {
	Index uint8
	MAC   string
}

func DecodeCircleScanResponse(f Frame) (CircleScanResponse, error) {
	if len(f.Payload) < 9 {
		return CircleScanResponse{}, fmt.Errorf("%w: scan response too short", errs.MalformedFrame)
	}
	resp := CircleScanResponse{Index: f.Payload[0]}
	if !allZero(f.Payload[1:9]) {
		resp.MAC = macFromBytes(f.Payload[1:9])
	}
	return resp, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
