package hawkeye

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/hawkeye/pkg/storage"
)

// Field names used in the struct-encoded payloads.
const (
	FieldIdentifier = "identifier"
	FieldTimestamp  = "timestamp"
	FieldValue      = "value"
)

// maxExactTimestamp is the largest millisecond timestamp a protobuf number
// (float64) carries without loss.
const maxExactTimestamp = 1 << 53

// EncodeSamples renders samples as a list of {timestamp, value} structs,
// oldest first.
func EncodeSamples(samples []storage.Sample) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(samples))
	for _, s := range samples {
		values = append(values, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				FieldTimestamp: structpb.NewNumberValue(float64(s.Timestamp)),
				FieldValue:     structpb.NewNumberValue(float64(s.Value)),
			},
		}))
	}
	return &structpb.ListValue{Values: values}
}

// DecodeSamples is the inverse of EncodeSamples. The identifier is not part of
// the wire form and must be supplied by the caller.
func DecodeSamples(identifier string, list *structpb.ListValue) ([]storage.Sample, error) {
	out := make([]storage.Sample, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("entry %d: not a struct", i)
		}
		ts, _, err := timestampField(st, true)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		val, err := valueField(st)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, storage.Sample{Identifier: identifier, Timestamp: ts, Value: val})
	}
	return out, nil
}

// EncodePush builds a PushSample request. A zero Timestamp is left off the
// wire so the collector stamps the sample on arrival.
func EncodePush(s storage.Sample) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldIdentifier: structpb.NewStringValue(s.Identifier),
		FieldValue:      structpb.NewNumberValue(float64(s.Value)),
	}
	if s.Timestamp != 0 {
		fields[FieldTimestamp] = structpb.NewNumberValue(float64(s.Timestamp))
	}
	return &structpb.Struct{Fields: fields}
}

// DecodePush extracts a sample from a PushSample request. A missing timestamp
// is filled with now; an explicit zero is kept.
func DecodePush(in *structpb.Struct, now time.Time) (storage.Sample, error) {
	idv, ok := in.GetFields()[FieldIdentifier]
	if !ok {
		return storage.Sample{}, errors.New("missing identifier")
	}
	id, ok := idv.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return storage.Sample{}, errors.New("identifier must be a string")
	}
	if err := storage.ValidateIdentifier(id.StringValue); err != nil {
		return storage.Sample{}, err
	}

	val, err := valueField(in)
	if err != nil {
		return storage.Sample{}, err
	}

	ts, ok, err := timestampField(in, false)
	if err != nil {
		return storage.Sample{}, err
	}
	if !ok {
		ts = uint64(now.UnixMilli())
	}

	return storage.Sample{Identifier: id.StringValue, Timestamp: ts, Value: val}, nil
}

func valueField(st *structpb.Struct) (float32, error) {
	v, ok := st.GetFields()[FieldValue]
	if !ok {
		return 0, errors.New("missing value")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.New("value must be a number")
	}
	if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, errors.New("value must be finite")
	}
	if math.Abs(n.NumberValue) > math.MaxFloat32 {
		return 0, fmt.Errorf("value %g overflows float32", n.NumberValue)
	}
	return float32(n.NumberValue), nil
}

// timestampField reports whether the timestamp was present.
func timestampField(st *structpb.Struct, required bool) (uint64, bool, error) {
	v, ok := st.GetFields()[FieldTimestamp]
	if !ok {
		if required {
			return 0, false, errors.New("missing timestamp")
		}
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false, errors.New("timestamp must be a number")
	}
	f := n.NumberValue
	if f < 0 || f > maxExactTimestamp || f != math.Trunc(f) {
		return 0, false, fmt.Errorf("timestamp %v is not a valid millisecond epoch", f)
	}
	return uint64(f), true, nil
}
