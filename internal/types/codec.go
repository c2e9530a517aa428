package types

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Subprotocol names a client may offer during the websocket handshake.
const (
	SubprotocolJSON    = "json"
	SubprotocolMsgpack = "msgpack"
)

// Codec encodes outbound frames and decodes inbound ones for one connection.
type Codec interface {
	Name() string
	Binary() bool
	Encode(msg ServerMessage) ([]byte, error)
	Decode(data []byte, msg *ClientMessage) error
}

// CodecFor returns the codec for a negotiated subprotocol; anything unknown
// (including none) gets JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(msg ServerMessage) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Decode(data []byte, msg *ClientMessage) error {
	return json.Unmarshal(data, msg)
}

// msgpackCodec reuses the json struct tags so both codecs share field names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return SubprotocolMsgpack }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(msg ServerMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte, msg *ClientMessage) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(msg)
}
