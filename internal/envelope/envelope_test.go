package envelope

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"Chat", Chat{SenderID: "abc123", Text: "hello", TimestampMillis: 1000}},
		{"ChatEmptyText", Chat{SenderID: "abc123", TimestampMillis: 1}},
		{"ChatZeroValue", Chat{}},
		{"ChatUnicode", Chat{SenderID: "ノード", Text: "héllo wörld 🌍", TimestampMillis: 1712345678901}},
		{"ChatNegativeTimestamp", Chat{SenderID: "x", Text: "from the past", TimestampMillis: -42}},
		{"ChatMaxTimestamp", Chat{SenderID: "x", Text: "y", TimestampMillis: math.MaxInt64}},
		{"Presence", Presence{SenderID: "xyz", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/4001"}, TimestampMillis: 2000}},
		{"PresenceNoAddrs", Presence{SenderID: "xyz", TimestampMillis: 2000}},
		{"PresenceManyAddrs", Presence{
			SenderID: "12D3KooWExample",
			ListenAddrs: []string{
				"/ip4/10.0.0.1/tcp/4001",
				"/ip6/::1/udp/4002/quic-v1",
				"/ip4/46.62.175.35/tcp/4001/p2p/12D3KooWRelay/p2p-circuit",
				"",
			},
			TimestampMillis: 3000,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randString := func() string {
		b := make([]rune, rng.Intn(24))
		for i := range b {
			b[i] = rune(0x20 + rng.Intn(0x2000))
		}
		return string(b)
	}
	for i := 0; i < 500; i++ {
		var msg Message
		if rng.Intn(2) == 0 {
			msg = Chat{SenderID: randString(), Text: randString(), TimestampMillis: rng.Int63() - rng.Int63()}
		} else {
			var addrs []string
			for j := rng.Intn(5); j > 0; j-- {
				addrs = append(addrs, randString())
			}
			msg = Presence{SenderID: randString(), ListenAddrs: addrs, TimestampMillis: rng.Int63()}
		}
		data, err := Encode(msg)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	msg := Presence{SenderID: "xyz", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/4001", "/ip4/5.6.7.8/tcp/4001"}, TimestampMillis: 99}
	a, err := Encode(msg)
	require.NoError(t, err)
	b, err := Encode(&msg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeRejectsUnknown(t *testing.T) {
	for _, m := range []Message{nil, Unhandled{Field: 9}, (*Chat)(nil)} {
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrUnencodable)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	bad := string([]byte{0xff, 0xfe})
	for _, m := range []Message{
		Chat{SenderID: bad, Text: "hi"},
		Chat{SenderID: "abc123", Text: bad},
		&Chat{Text: "ok" + bad},
		Presence{SenderID: bad},
		Presence{SenderID: "xyz", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/4001", bad}},
	} {
		_, err := Encode(m)
		assert.ErrorIs(t, err, ErrUnencodable, "%#v", m)
	}
}

// Whatever Encode accepts, Decode must give back unchanged.
func TestEncodeAcceptedImpliesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for i := 0; i < 2000; i++ {
		raw := make([]byte, rng.Intn(12))
		rng.Read(raw)
		msg := Chat{SenderID: "abc123", Text: string(raw), TimestampMillis: 1000}

		data, err := Encode(msg)
		if err != nil {
			require.ErrorIs(t, err, ErrUnencodable)
			continue
		}
		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestNewChatStampsWallClock(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, Chat{SenderID: "a", Text: "b", TimestampMillis: 1700000000123}, NewChat("a", "b", now))
	p := NewPresence("a", []string{"/ip4/1.1.1.1/tcp/1"}, now)
	assert.Equal(t, int64(1700000000123), p.TimestampMillis)
}

func TestDecodeUnknownVariant(t *testing.T) {
	inner := protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), "future")
	data := protowire.AppendBytes(protowire.AppendTag(nil, 7, protowire.BytesType), inner)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Unhandled{Field: 7}, got)
}

func TestDecodeEmptyEnvelope(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, Unhandled{}, got)
}

func TestDecodeSkipsUnknownInnerFields(t *testing.T) {
	var inner []byte
	inner = protowire.AppendTag(inner, fieldSenderID, protowire.BytesType)
	inner = protowire.AppendString(inner, "abc123")
	inner = protowire.AppendTag(inner, 15, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, 0xdeadbeef)
	inner = protowire.AppendTag(inner, fieldText, protowire.BytesType)
	inner = protowire.AppendString(inner, "hello")
	data := protowire.AppendBytes(protowire.AppendTag(nil, fieldChat, protowire.BytesType), inner)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Chat{SenderID: "abc123", Text: "hello"}, got)
}

func TestDecodeLastPayloadWins(t *testing.T) {
	chat, err := Encode(Chat{SenderID: "a", Text: "first"})
	require.NoError(t, err)
	presence, err := Encode(Presence{SenderID: "b", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/1"}})
	require.NoError(t, err)

	got, err := Decode(append(chat, presence...))
	require.NoError(t, err)
	assert.Equal(t, Presence{SenderID: "b", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/1"}}, got)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(Chat{SenderID: "abc123", Text: "hello", TimestampMillis: 1000})
	require.NoError(t, err)

	badUTF8 := protowire.AppendBytes(
		protowire.AppendTag(nil, fieldChat, protowire.BytesType),
		protowire.AppendBytes(protowire.AppendTag(nil, fieldText, protowire.BytesType), []byte{0xff, 0xfe}),
	)
	wrongType := protowire.AppendVarint(protowire.AppendTag(nil, fieldChat, protowire.VarintType), 5)
	innerWrongType := protowire.AppendBytes(
		protowire.AppendTag(nil, fieldPresence, protowire.BytesType),
		protowire.AppendVarint(protowire.AppendTag(nil, fieldSenderID, protowire.VarintType), 1),
	)

	tests := []struct {
		name string
		data []byte
	}{
		{"Truncated", valid[:len(valid)-3]},
		{"LengthOverflow", []byte{0x0a, 0xff, 0xff, 0xff, 0xff, 0x0f}},
		{"BadTag", []byte{0x00}},
		{"InvalidUTF8", badUTF8},
		{"PayloadWrongWireType", wrongType},
		{"InnerWrongWireType", innerWrongType},
		{"PlainText", []byte("hello world, not an envelope")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)
		require.NotPanics(t, func() {
			_, _ = Decode(buf)
		})
	}
}

func FuzzDecode(f *testing.F) {
	chat, _ := Encode(Chat{SenderID: "abc123", Text: "hello", TimestampMillis: 1000})
	presence, _ := Encode(Presence{SenderID: "xyz", ListenAddrs: []string{"/ip4/1.2.3.4/tcp/4001"}, TimestampMillis: 2000})
	f.Add(chat)
	f.Add(presence)
	f.Add([]byte{})
	f.Add([]byte{0x0a, 0x80})
	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			return
		}
		if _, ok := msg.(Unhandled); ok {
			return
		}
		// Anything that decodes to a known variant must survive a re-encode.
		again, err := Encode(msg)
		if err != nil {
			t.Fatalf("re-encode of %#v: %v", msg, err)
		}
		back, err := Decode(again)
		if err != nil {
			t.Fatalf("decode of re-encoded %#v: %v", msg, err)
		}
		if !assert.ObjectsAreEqual(msg, back) {
			t.Fatalf("round trip mismatch: %#v != %#v", msg, back)
		}
	})
}
