package store

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SQL rows hold documents as CBOR. Timestamps travel as tag-0 RFC 3339
// strings so they decode back to time.Time, and every integer decodes as int64.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort:    cbor.SortCanonical,
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encoder: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		TimeTagToAny:   cbor.TimeTagToTime,
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor decoder: %v", err))
	}
}

func encodeCBOR(data map[string]any) ([]byte, error) {
	b, err := cborEnc.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return b, nil
}

func decodeCBOR(b []byte) (map[string]any, error) {
	var data map[string]any
	if err := cborDec.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return normalizeValue(data).(map[string]any), nil
}

// JSON files tag the two value kinds plain JSON cannot carry.
const (
	jsonTimeKey  = "$time"
	jsonBytesKey = "$bytes"
)

func toJSONValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{jsonTimeKey: x.UTC().Format(time.RFC3339Nano)}
	case []byte:
		return map[string]any{jsonBytesKey: base64.StdEncoding.EncodeToString(x)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toJSONValue(e)
		}
		return out
	}
	return v
}

func fromJSONValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x[jsonTimeKey].(string); ok {
				return time.Parse(time.RFC3339Nano, s)
			}
			if s, ok := x[jsonBytesKey].(string); ok {
				return base64.StdEncoding.DecodeString(s)
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			dv, err := fromJSONValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			dv, err := fromJSONValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}
	return v, nil
}

// decodeJSONCollection reads a collection file: document ID -> document.
func decodeJSONCollection(b []byte) (map[string]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(raw))
	for id, doc := range raw {
		v, err := fromJSONValue(doc)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		out[id] = v.(map[string]any)
	}
	return out, nil
}

func encodeJSONCollection(docs map[string]map[string]any) ([]byte, error) {
	raw := make(map[string]any, len(docs))
	for id, doc := range docs {
		raw[id] = toJSONValue(doc)
	}
	return json.MarshalIndent(raw, "", "  ")
}
