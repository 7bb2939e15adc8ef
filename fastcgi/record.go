// Package fastcgi implements the wire-level FastCGI 1.0 protocol: record
// framing, the BEGIN_REQUEST/END_REQUEST bodies, and the PARAMS name-value
// pair encoding, plus the per-connection responder state machine built on
// top of them.
package fastcgi

import "encoding/binary"

// Protocol constants.
const (
	Version1 uint8 = 1

	HeaderLen = 8
	MaxLength = 65535

	NullRequestID uint16 = 0
)

// Record types. Inbound: BeginRequest, AbortRequest, Params, Stdin, Data.
// Outbound: EndRequest, Stdout. GetValues/GetValuesResult/UnknownType and
// Stderr are accepted on the wire but this responder never emits or
// specially interprets them (management records are a spec Non-goal).
const (
	TypeBeginRequest uint8 = 1
	TypeAbortRequest uint8 = 2
	TypeEndRequest   uint8 = 3
	TypeParams       uint8 = 4
	TypeStdin        uint8 = 5
	TypeStdout       uint8 = 6
	TypeStderr       uint8 = 7
	TypeData         uint8 = 8

	TypeGetValues       uint8 = 9
	TypeGetValuesResult uint8 = 10
	TypeUnknownType     uint8 = 11
)

// Roles. RoleResponder is the only one this package treats specially in
// documentation; in practice all three arrive via STDIN/DATA the same way
// and are handled identically.
const (
	RoleResponder  uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3
)

// KeepConn is the BeginRequestBody.Flags bit instructing the responder to
// leave the transport open after END_REQUEST.
const KeepConn uint8 = 0x01

// EndRequestBody.ProtocolStatus values.
const (
	RequestComplete    uint8 = 0
	CantMultiplexConns uint8 = 1
	Overloaded         uint8 = 2
	UnknownRole        uint8 = 3
)

// Header is the fixed 8-byte FastCGI record header.
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// newHeader builds a Header for an outbound record, computing padding so
// the record length is a multiple of 8 (teacher's convention; not required
// by the protocol but harmless and keeps records block-aligned).
func newHeader(recType uint8, requestID uint16, contentLen int) Header {
	return Header{
		Version:       Version1,
		Type:          recType,
		RequestID:     requestID,
		ContentLength: uint16(contentLen),
		PaddingLength: uint8(-contentLen & 7),
	}
}

// Marshal encodes h into its fixed 8-byte wire representation.
func (h Header) Marshal() [HeaderLen]byte {
	var buf [HeaderLen]byte
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
	return buf
}

// UnmarshalHeader decodes the first HeaderLen bytes of buf into a Header.
// It does not validate Version; callers compare that against Version1
// themselves and report ErrProtocolVersion.
func UnmarshalHeader(buf []byte) Header {
	_ = buf[HeaderLen-1]
	return Header{
		Version:       buf[0],
		Type:          buf[1],
		RequestID:     binary.BigEndian.Uint16(buf[2:4]),
		ContentLength: binary.BigEndian.Uint16(buf[4:6]),
		PaddingLength: buf[6],
		Reserved:      buf[7],
	}
}

// BeginRequestBody is the 8-byte body of a BEGIN_REQUEST record.
type BeginRequestBody struct {
	Role     uint16
	Flags    uint8
	Reserved [5]byte
}

// Marshal encodes b into its 8-byte wire representation.
func (b BeginRequestBody) Marshal() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], b.Role)
	buf[2] = b.Flags
	return buf
}

// UnmarshalBeginRequestBody decodes the 8-byte body of a BEGIN_REQUEST
// record. buf must have length >= 8.
func UnmarshalBeginRequestBody(buf []byte) BeginRequestBody {
	_ = buf[7]
	return BeginRequestBody{
		Role:  binary.BigEndian.Uint16(buf[0:2]),
		Flags: buf[2],
	}
}

// EndRequestBody is the 8-byte body of an END_REQUEST record.
type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus uint8
	Reserved       [3]byte
}

// Marshal encodes e into its 8-byte wire representation.
func (e EndRequestBody) Marshal() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], e.AppStatus)
	buf[4] = e.ProtocolStatus
	return buf
}

// UnmarshalEndRequestBody decodes the 8-byte body of an END_REQUEST
// record. buf must have length >= 8.
func UnmarshalEndRequestBody(buf []byte) EndRequestBody {
	_ = buf[7]
	return EndRequestBody{
		AppStatus:      binary.BigEndian.Uint32(buf[0:4]),
		ProtocolStatus: buf[4],
	}
}
