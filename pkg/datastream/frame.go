// Package datastream encodes upstream units as data stream protocol frames.
//
// A frame is one line of the form "<type>:<json>\n". Text deltas use type
// "0" with a JSON string payload; the end of a stream uses type "e" with a
// fixed finish summary.
package datastream

import (
	"bytes"
	"encoding/json"

	"mercator-hq/relay/pkg/upstream"
)

// ProtocolVersion is advertised in the x-vercel-ai-data-stream header.
const ProtocolVersion = "v1"

// FrameType is the leading discriminator of a frame line.
type FrameType string

const (
	// FrameText carries a text delta.
	FrameText FrameType = "0"
	// FrameFinish ends the stream.
	FrameFinish FrameType = "e"
	// FrameRaw is unframed text used by the text protocol.
	FrameRaw FrameType = ""
)

// Frame is a single downstream line.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Bytes returns the frame as written on the wire.
func (f Frame) Bytes() []byte {
	if f.Type == FrameRaw {
		return f.Payload
	}
	b := make([]byte, 0, len(f.Type)+1+len(f.Payload)+1)
	b = append(b, f.Type...)
	b = append(b, ':')
	b = append(b, f.Payload...)
	return append(b, '\n')
}

// String returns the wire form.
func (f Frame) String() string {
	return string(f.Bytes())
}

// Usage is the token summary in a finish frame.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Finish is the finish frame payload. Token counts are not tracked and are
// always zero, and the finish reason is always "stop".
type Finish struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  bool   `json:"isContinued"`
}

var finishPayload = func() []byte {
	b, err := json.Marshal(Finish{FinishReason: "stop"})
	if err != nil {
		panic(err)
	}
	return b
}()

// FinishFrame returns the end-of-stream frame.
func FinishFrame() Frame {
	return Frame{Type: FrameFinish, Payload: finishPayload}
}

// TextFrame returns a text delta frame for text.
func TextFrame(text string) Frame {
	return Frame{Type: FrameText, Payload: encodeString(text)}
}

// encodeString writes text as a JSON string without HTML escaping.
func encodeString(text string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(text)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Transcode maps one upstream unit to data protocol frames. Malformed units
// produce nothing.
func Transcode(u upstream.Unit) []Frame {
	switch u.Kind {
	case upstream.UnitDelta:
		return []Frame{TextFrame(u.Text)}
	case upstream.UnitDone:
		return []Frame{FinishFrame()}
	default:
		return nil
	}
}
