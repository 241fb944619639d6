// Package envelope implements the wire format published on the shared gossip
// topic. Every payload is a protobuf-encoded message with a single oneof:
//
//	message NetworkMessage {
//	  oneof payload {
//	    Chat     chat     = 1;
//	    Presence presence = 2;
//	  }
//	}
//	message Chat     { string sender_id = 1; string text = 2;                  int64 timestamp_millis = 3; }
//	message Presence { string sender_id = 1; repeated string listen_addrs = 2; int64 timestamp_millis = 3; }
package envelope

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrDecode is wrapped by every Decode failure.
	ErrDecode = errors.New("envelope: decode failed")
	// ErrUnencodable is returned when Encode is given something other than Chat or Presence.
	ErrUnencodable = errors.New("envelope: message cannot be encoded")
)

const (
	fieldChat     protowire.Number = 1
	fieldPresence protowire.Number = 2
)

const (
	fieldSenderID  protowire.Number = 1
	fieldText      protowire.Number = 2
	fieldAddrs     protowire.Number = 2
	fieldTimestamp protowire.Number = 3
)

// Message is one of Chat, Presence or Unhandled.
type Message interface {
	isMessage()
}

type Chat struct {
	SenderID        string
	Text            string
	TimestampMillis int64
}

type Presence struct {
	SenderID string
	// ListenAddrs is nil after decoding when no address was announced.
	ListenAddrs     []string
	TimestampMillis int64
}

// Unhandled is returned for envelopes whose payload variant this build does
// not know. Field is the oneof field number seen on the wire, or zero when the
// envelope carried no payload at all.
type Unhandled struct {
	Field int32
}

func (Chat) isMessage()      {}
func (Presence) isMessage()  {}
func (Unhandled) isMessage() {}

// NewChat stamps a chat line with the given wall clock time.
func NewChat(senderID, text string, now time.Time) Chat {
	return Chat{SenderID: senderID, Text: text, TimestampMillis: now.UnixMilli()}
}

// NewPresence stamps a presence announcement with the given wall clock time.
func NewPresence(senderID string, addrs []string, now time.Time) Presence {
	return Presence{SenderID: senderID, ListenAddrs: addrs, TimestampMillis: now.UnixMilli()}
}

// Encode serializes m. Fields holding their zero value are omitted, so the
// output is deterministic for a given message. Strings must be valid UTF-8,
// the same rule Decode enforces.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Chat:
		if !utf8.ValidString(v.SenderID) || !utf8.ValidString(v.Text) {
			return nil, fmt.Errorf("%w: chat holds invalid UTF-8", ErrUnencodable)
		}
		return protowire.AppendBytes(protowire.AppendTag(nil, fieldChat, protowire.BytesType), v.marshal()), nil
	case *Chat:
		if v == nil {
			return nil, ErrUnencodable
		}
		return Encode(*v)
	case Presence:
		if !validStrings(v.SenderID, v.ListenAddrs...) {
			return nil, fmt.Errorf("%w: presence holds invalid UTF-8", ErrUnencodable)
		}
		return protowire.AppendBytes(protowire.AppendTag(nil, fieldPresence, protowire.BytesType), v.marshal()), nil
	case *Presence:
		if v == nil {
			return nil, ErrUnencodable
		}
		return Encode(*v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnencodable, m)
	}
}

func validStrings(first string, rest ...string) bool {
	if !utf8.ValidString(first) {
		return false
	}
	for _, s := range rest {
		if !utf8.ValidString(s) {
			return false
		}
	}
	return true
}

func (c Chat) marshal() []byte {
	var b []byte
	b = appendString(b, fieldSenderID, c.SenderID)
	b = appendString(b, fieldText, c.Text)
	b = appendInt64(b, fieldTimestamp, c.TimestampMillis)
	return b
}

func (p Presence) marshal() []byte {
	var b []byte
	b = appendString(b, fieldSenderID, p.SenderID)
	for _, addr := range p.ListenAddrs {
		b = protowire.AppendTag(b, fieldAddrs, protowire.BytesType)
		b = protowire.AppendString(b, addr)
	}
	b = appendInt64(b, fieldTimestamp, p.TimestampMillis)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// Decode parses an envelope. Malformed or truncated input yields an error
// wrapping ErrDecode; a well-formed envelope with an unknown payload variant
// yields Unhandled. As with any protobuf oneof, the last payload field wins.
func Decode(data []byte) (Message, error) {
	var (
		msg  Message = Unhandled{}
		seen bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, decodeErr("envelope tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldChat && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("chat payload", protowire.ParseError(n))
			}
			data = data[n:]
			chat, err := unmarshalChat(raw)
			if err != nil {
				return nil, err
			}
			msg, seen = chat, true
		case num == fieldPresence && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("presence payload", protowire.ParseError(n))
			}
			data = data[n:]
			presence, err := unmarshalPresence(raw)
			if err != nil {
				return nil, err
			}
			msg, seen = presence, true
		case num == fieldChat || num == fieldPresence:
			return nil, decodeErr("payload", fmt.Errorf("field %d has wire type %d", num, typ))
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, decodeErr("unknown field", protowire.ParseError(n))
			}
			data = data[n:]
			if !seen {
				msg = Unhandled{Field: int32(num)}
			}
		}
	}
	return msg, nil
}

func unmarshalChat(data []byte) (Chat, error) {
	var c Chat
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldSenderID:
			return consumeString(typ, data, &c.SenderID)
		case fieldText:
			return consumeString(typ, data, &c.Text)
		case fieldTimestamp:
			return consumeInt64(typ, data, &c.TimestampMillis)
		}
		return -1, nil
	})
	if err != nil {
		return Chat{}, decodeErr("chat", err)
	}
	return c, nil
}

func unmarshalPresence(data []byte) (Presence, error) {
	var p Presence
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldSenderID:
			return consumeString(typ, data, &p.SenderID)
		case fieldAddrs:
			var addr string
			n, err := consumeString(typ, data, &addr)
			if err == nil {
				p.ListenAddrs = append(p.ListenAddrs, addr)
			}
			return n, err
		case fieldTimestamp:
			return consumeInt64(typ, data, &p.TimestampMillis)
		}
		return -1, nil
	})
	if err != nil {
		return Presence{}, decodeErr("presence", err)
	}
	return p, nil
}

// walkFields calls fn for every field in data. fn returns the number of bytes
// it consumed, or -1 to have the field skipped as unknown.
func walkFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		n, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		data = data[n:]
	}
	return nil
}

func consumeString(typ protowire.Type, data []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("string field has wire type %d", typ)
	}
	raw, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if !utf8.Valid(raw) {
		return 0, errors.New("string field is not valid UTF-8")
	}
	*dst = string(raw)
	return n, nil
}

func consumeInt64(typ protowire.Type, data []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("int64 field has wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func decodeErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
}
