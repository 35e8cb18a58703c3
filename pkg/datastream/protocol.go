package datastream

import (
	"strings"

	"mercator-hq/relay/pkg/upstream"
)

// Protocol selects the downstream encoding.
type Protocol string

const (
	// ProtocolData emits framed lines and a finish frame.
	ProtocolData Protocol = "data"
	// ProtocolText emits raw delta text and no finish frame.
	ProtocolText Protocol = "text"
)

// ParseProtocol maps a query value to a Protocol. Unknown or empty values
// select ProtocolData.
func ParseProtocol(s string) Protocol {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolText:
		return ProtocolText
	default:
		return ProtocolData
	}
}

// Encoder transcodes units for one protocol.
type Encoder struct {
	protocol Protocol
}

// NewEncoder returns an encoder for p.
func NewEncoder(p Protocol) Encoder {
	return Encoder{protocol: p}
}

// Protocol returns the encoder's protocol.
func (e Encoder) Protocol() Protocol {
	return e.protocol
}

// Encode maps one unit to frames.
func (e Encoder) Encode(u upstream.Unit) []Frame {
	if e.protocol != ProtocolText {
		return Transcode(u)
	}
	if u.Kind != upstream.UnitDelta || u.Text == "" {
		return nil
	}
	return []Frame{{Type: FrameRaw, Payload: []byte(u.Text)}}
}

// Finish returns the frames that close a stream, if the protocol has any.
func (e Encoder) Finish() []Frame {
	if e.protocol == ProtocolText {
		return nil
	}
	return []Frame{FinishFrame()}
}
