package bridge

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// protocolVersion is the bridge wire protocol version exchanged during the
// handshake. Peers with a different version are rejected.
const protocolVersion = 1

var (
	// ErrEmptyFrame is returned when a frame carries no recognised body
	ErrEmptyFrame = errors.New("frame has no body")
	// ErrVersionMismatch is returned when the peer speaks another protocol version
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Handshake is the first frame on every stream, in both directions.
type Handshake struct {
	NodeID          string
	ProtocolVersion uint64
}

// Envelope carries one bus message across the bridge.
type Envelope struct {
	Topic    string
	Payload  []byte
	Seq      int64
	Offset   int64
	UnixNano int64
	Headers  map[string]string
}

// Heartbeat is a keepalive frame carrying the sender's clock.
type Heartbeat struct {
	UnixNano int64
}

// Frame is the single message type on the bridge stream. Exactly one of
// the three bodies is set.
type Frame struct {
	Handshake *Handshake
	Envelope  *Envelope
	Heartbeat *Heartbeat
}

// Wire field numbers for Frame and its nested bodies.
const (
	frameFieldHandshake = 1
	frameFieldEnvelope  = 2
	frameFieldHeartbeat = 3

	handshakeFieldNodeID  = 1
	handshakeFieldVersion = 2

	envelopeFieldTopic    = 1
	envelopeFieldPayload  = 2
	envelopeFieldSeq      = 3
	envelopeFieldOffset   = 4
	envelopeFieldUnixNano = 5
	envelopeFieldHeader   = 6

	headerFieldKey   = 1
	headerFieldValue = 2

	heartbeatFieldUnixNano = 1
)

// EnvelopeFromMessage converts a bus message into its wire form.
func EnvelopeFromMessage(msg *rosbus.Message) *Envelope {
	env := &Envelope{
		Topic:    msg.Topic,
		Payload:  append([]byte(nil), msg.Payload...),
		Seq:      msg.Seq,
		Offset:   msg.Offset,
		UnixNano: msg.Timestamp.UnixNano(),
	}
	if len(msg.Headers) > 0 {
		env.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			env.Headers[k] = v
		}
	}
	return env
}

// ToMessage converts a received envelope back into a bus message.
func (e *Envelope) ToMessage() *rosbus.Message {
	msg := rosbus.NewMessage(e.Topic, e.Payload)
	msg.Seq = e.Seq
	msg.Offset = e.Offset
	msg.Timestamp = time.Unix(0, e.UnixNano).UTC()
	for k, v := range e.Headers {
		if msg.Headers == nil {
			msg.Headers = make(map[string]string, len(e.Headers))
		}
		msg.Headers[k] = v
	}
	return msg
}

// Marshal encodes the frame into protobuf wire format.
func (f *Frame) Marshal() ([]byte, error) {
	switch {
	case f.Handshake != nil:
		body := appendHandshake(nil, f.Handshake)
		return appendNested(nil, frameFieldHandshake, body), nil
	case f.Envelope != nil:
		body := appendEnvelope(nil, f.Envelope)
		return appendNested(nil, frameFieldEnvelope, body), nil
	case f.Heartbeat != nil:
		var body []byte
		body = protowire.AppendTag(body, heartbeatFieldUnixNano, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(f.Heartbeat.UnixNano))
		return appendNested(nil, frameFieldHeartbeat, body), nil
	default:
		return nil, ErrEmptyFrame
	}
}

// Unmarshal decodes a frame from protobuf wire format.
func (f *Frame) Unmarshal(data []byte) error {
	f.Handshake = nil
	f.Envelope = nil
	f.Heartbeat = nil

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode frame tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to skip frame field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		body, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("failed to decode frame body: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case frameFieldHandshake:
			hs, err := parseHandshake(body)
			if err != nil {
				return err
			}
			f.Handshake = hs
		case frameFieldEnvelope:
			env, err := parseEnvelope(body)
			if err != nil {
				return err
			}
			f.Envelope = env
		case frameFieldHeartbeat:
			hb, err := parseHeartbeat(body)
			if err != nil {
				return err
			}
			f.Heartbeat = hb
		}
	}

	if f.Handshake == nil && f.Envelope == nil && f.Heartbeat == nil {
		return ErrEmptyFrame
	}
	return nil
}

func appendNested(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendHandshake(b []byte, hs *Handshake) []byte {
	b = protowire.AppendTag(b, handshakeFieldNodeID, protowire.BytesType)
	b = protowire.AppendString(b, hs.NodeID)
	b = protowire.AppendTag(b, handshakeFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, hs.ProtocolVersion)
	return b
}

func appendEnvelope(b []byte, env *Envelope) []byte {
	b = protowire.AppendTag(b, envelopeFieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, env.Topic)
	b = protowire.AppendTag(b, envelopeFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Payload)
	b = protowire.AppendTag(b, envelopeFieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Seq))
	b = protowire.AppendTag(b, envelopeFieldOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Offset))
	b = protowire.AppendTag(b, envelopeFieldUnixNano, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.UnixNano))
	for k, v := range env.Headers {
		var hdr []byte
		hdr = protowire.AppendTag(hdr, headerFieldKey, protowire.BytesType)
		hdr = protowire.AppendString(hdr, k)
		hdr = protowire.AppendTag(hdr, headerFieldValue, protowire.BytesType)
		hdr = protowire.AppendString(hdr, v)
		b = appendNested(b, envelopeFieldHeader, hdr)
	}
	return b
}

func parseHandshake(data []byte) (*Handshake, error) {
	hs := &Handshake{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode handshake: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == handshakeFieldNodeID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode handshake node ID: %w", protowire.ParseError(n))
			}
			hs.NodeID = s
			data = data[n:]
		case num == handshakeFieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode handshake version: %w", protowire.ParseError(n))
			}
			hs.ProtocolVersion = v
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("failed to skip handshake field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return hs, nil
}

func parseEnvelope(data []byte) (*Envelope, error) {
	env := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode envelope: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == envelopeFieldTopic && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope topic: %w", protowire.ParseError(n))
			}
			env.Topic = s
			data = data[n:]
		case num == envelopeFieldPayload && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope payload: %w", protowire.ParseError(n))
			}
			env.Payload = append([]byte(nil), b...)
			data = data[n:]
		case num == envelopeFieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope seq: %w", protowire.ParseError(n))
			}
			env.Seq = int64(v)
			data = data[n:]
		case num == envelopeFieldOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope offset: %w", protowire.ParseError(n))
			}
			env.Offset = int64(v)
			data = data[n:]
		case num == envelopeFieldUnixNano && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope timestamp: %w", protowire.ParseError(n))
			}
			env.UnixNano = int64(v)
			data = data[n:]
		case num == envelopeFieldHeader && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode envelope header: %w", protowire.ParseError(n))
			}
			k, v, err := parseHeader(b)
			if err != nil {
				return nil, err
			}
			if env.Headers == nil {
				env.Headers = make(map[string]string)
			}
			env.Headers[k] = v
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("failed to skip envelope field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return env, nil
}

func parseHeader(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("failed to decode header: %w", protowire.ParseError(n))
		}
		data = data[n:]

		s, n := protowire.ConsumeString(data)
		if n < 0 {
			return "", "", fmt.Errorf("failed to decode header field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == headerFieldKey && typ == protowire.BytesType:
			key = s
		case num == headerFieldValue && typ == protowire.BytesType:
			value = s
		}
	}
	return key, value, nil
}

func parseHeartbeat(data []byte) (*Heartbeat, error) {
	hb := &Heartbeat{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode heartbeat: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == heartbeatFieldUnixNano && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode heartbeat timestamp: %w", protowire.ParseError(n))
			}
			hb.UnixNano = int64(v)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("failed to skip heartbeat field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return hb, nil
}
