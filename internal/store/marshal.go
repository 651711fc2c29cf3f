package store

import (
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

// Args and results are stored as canonical JSON text so the stored form
// hashes to the same ids it was written with.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}

func unmarshalObject(data string) (ir.IRObject, error) {
	obj, err := ir.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return obj, nil
}
