package wire

import (
	"bytes"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Content types used on the HTTP transport.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// maxDepth bounds the nesting accepted from untrusted payloads.
const maxDepth = 32

var mapStrIntfType = reflect.TypeOf(map[string]interface{}(nil))

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	jh.MaxDepth = maxDepth
	jh.MapType = mapStrIntfType
	return jh
}

func msgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.WriteExt = true
	mh.RawToString = true
	mh.MaxDepth = maxDepth
	return mh
}

// Marshal encodes v in MessagePack. It is used for peer exchange traffic.
func Marshal(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, msgpackHandle())

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes MessagePack data into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle())

	if err := dec.Decode(v); err != nil {
		return err
	}

	return nil
}

// MarshalJSON encodes v in canonical JSON.
func MarshalJSON(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalJSON decodes JSON data into v.
func UnmarshalJSON(data []byte, v interface{}) error {
	return decodeJSONValue(data, v)
}
