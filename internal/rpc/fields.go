package rpc

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/intersection-controller/internal/policy"
)

// #region field-readers

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || sv.StringValue == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", name)
	}
	return sv.StringValue, nil
}

// uintField reads a non-negative integral number. Absent fields read as zero
// when optional is set.
func uintField(s *structpb.Struct, name string, optional bool) (uint64, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("missing field %q", name)
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q must be a number", name)
	}
	f := nv.NumberValue
	if f < 0 || f != math.Trunc(f) || f > 1<<53 {
		return 0, fmt.Errorf("field %q must be a non-negative integer, got %v", name, f)
	}
	return uint64(f), nil
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

// #endregion field-readers

// #region snapshot-conversion

func snapshotToStruct(snap policy.Snapshot) (*structpb.Struct, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return structpb.NewStruct(m)
}

func structToSnapshot(s *structpb.Struct) (policy.Snapshot, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return policy.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	var snap policy.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return policy.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// #endregion snapshot-conversion
