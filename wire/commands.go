package wire

// CmdID identifies a request or response message kind. Values follow
// the Plugwise stick protocol's 4-hex-digit command codes.
type CmdID uint16

const (
	// Stick-level requests/responses.
	CmdStickInitRequest  CmdID = 0x0000
	CmdStickInitResponse CmdID = 0x0011

	// Node discovery / membership.
	CmdNodeInfoRequest         CmdID = 0x0023
	CmdNodeInfoResponse        CmdID = 0x0024
	CmdNodeAddRequest          CmdID = 0x0007
	CmdNodeAllowJoiningRequest CmdID = 0x0008
	CmdNodeJoinAvailableResponse CmdID = 0x0061
	CmdNodeRemoveRequest       CmdID = 0x001C
	CmdNodeRemoveResponse      CmdID = 0x001D

	// Liveness.
	CmdNodePingRequest  CmdID = 0x000D
	CmdNodePingResponse CmdID = 0x000E

	// Generic envelopes.
	CmdNodeAckResponse      CmdID = 0x0100
	CmdNodeAckLargeResponse CmdID = 0x0101

	// Circle/Circle+ feature requests.
	CmdCircleSwitchRelayRequest  CmdID = 0x0017
	CmdCirclePowerUsageRequest   CmdID = 0x0012
	CmdCirclePowerUsageResponse  CmdID = 0x0013
	CmdCircleClockSetRequest     CmdID = 0x0016
	CmdCircleScanRequest         CmdID = 0x0018 // Circle+ association table read
	CmdCircleScanResponse        CmdID = 0x0019
)

// AckCode is the status code carried in a NodeAckResponse payload.
type AckCode uint16

const (
	AckSuccess       AckCode = 0x00
	AckError         AckCode = 0x01
	AckTimeout       AckCode = 0xE1
	AckUnsupported   AckCode = 0xE2
)

func (a AckCode) IsSuccess() bool { return a == AckSuccess }
