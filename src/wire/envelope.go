package wire

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/ugorji/go/codec"
)

// Envelope is the structured JSON form of a command.
type Envelope struct {
	Command string `codec:"command" json:"command"`
	Data    string `codec:"data,omitempty" json:"data,omitempty"`
}

// DecodeEnvelope parses a pushed message into a Command. Malformed bytes yield
// a *common.DecodeErr; a well-formed payload carrying an unknown command or
// unusable data yields a *common.CommandErr. Both name the offending field.
func DecodeEnvelope(body []byte) (Command, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, common.NewDecodeErr("body", "empty")
	}

	switch body[0] {
	case '{':
		return decodeObject(body)
	case '[':
		return nil, common.NewDecodeErr("body", "expected an object or a scalar")
	case '"':
		var s string
		if err := decodeJSONValue(body, &s); err != nil {
			return nil, common.NewDecodeErr("body", err.Error())
		}
		return newCommand(TagSetID, s)
	default:
		// A bare token such as 3 or 0x0a.
		return newCommand(TagSetID, string(body))
	}
}

func decodeObject(body []byte) (Command, error) {
	var obj map[string]interface{}
	if err := decodeJSONValue(body, &obj); err != nil {
		return nil, common.NewDecodeErr("body", err.Error())
	}

	raw, ok := obj["command"]
	if !ok {
		return nil, common.NewDecodeErr("command", "missing")
	}
	tag, ok := raw.(string)
	if !ok {
		return nil, common.NewDecodeErr("command", "expected a string")
	}

	data, err := dataString(tag, obj["data"])
	if err != nil {
		return nil, err
	}

	return newCommand(tag, data)
}

// dataString flattens the "data" member into the textual form accepted by
// newCommand. Numbers and arrays of numbers are allowed alongside strings.
func dataString(tag string, v interface{}) (string, error) {
	switch d := v.(type) {
	case nil:
		return "", nil
	case string:
		return d, nil
	case uint64:
		return strconv.FormatUint(d, 10), nil
	case int64:
		return strconv.FormatInt(d, 10), nil
	case float64:
		return formatFloat(d), nil
	case []interface{}:
		parts := make([]string, 0, len(d))
		for _, e := range d {
			switch n := e.(type) {
			case uint64:
				parts = append(parts, strconv.FormatUint(n, 10))
			case int64:
				parts = append(parts, strconv.FormatInt(n, 10))
			case float64:
				parts = append(parts, formatFloat(n))
			default:
				return "", common.NewCommandErr(tag, "data", "array elements must be numbers")
			}
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	default:
		return "", common.NewCommandErr(tag, "data", fmt.Sprintf("unsupported type %T", v))
	}
}

func newCommand(tag, data string) (Command, error) {
	switch tag {
	case TagSetID, TagAddPeer, TagRemovePeer:
		id, err := peers.ParseID(data)
		if err != nil {
			return nil, common.NewCommandErr(tag, "data", err.Error())
		}
		switch tag {
		case TagSetID:
			return SetID{ID: id}, nil
		case TagAddPeer:
			return AddPeer{ID: id}, nil
		default:
			return RemovePeer{ID: id}, nil
		}
	case TagStartOptimize:
		v, err := ParseVector(data)
		if err != nil {
			return nil, common.NewCommandErr(tag, "data", err.Error())
		}
		return StartOptimize{Initial: v}, nil
	case TagStopOptimize:
		return StopOptimize{}, nil
	case TagStatus:
		return QueryStatus{}, nil
	case TagReset:
		return Reset{}, nil
	default:
		return nil, common.NewCommandErr(tag, "command", "unknown command")
	}
}

// ParseVector reads an optimization value from text: a single number, a comma
// separated list, or a bracketed list. Empty input returns nil. Every
// component must be finite.
func ParseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	res := make([]float64, 0, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: not a number", i)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("component %d: not finite", i)
		}
		res = append(res, f)
	}

	return res, nil
}

// EncodeEnvelope renders a Command in its structured JSON form.
func EncodeEnvelope(c Command) ([]byte, error) {
	env := Envelope{Command: c.Tag()}

	switch cmd := c.(type) {
	case SetID:
		env.Data = cmd.ID.String()
	case AddPeer:
		env.Data = cmd.ID.String()
	case RemovePeer:
		env.Data = cmd.ID.String()
	case StartOptimize:
		parts := make([]string, 0, len(cmd.Initial))
		for _, f := range cmd.Initial {
			parts = append(parts, formatFloat(f))
		}
		env.Data = strings.Join(parts, ",")
	}

	return MarshalJSON(&env)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// decodeJSONValue decodes a single JSON value and rejects trailing content.
func decodeJSONValue(body []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(body, jsonHandle())
	if err := dec.Decode(v); err != nil {
		return err
	}
	if n := dec.NumBytesRead(); n < len(body) && len(bytes.TrimSpace(body[n:])) > 0 {
		return fmt.Errorf("trailing data after offset %d", n)
	}
	return nil
}
