package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash domains. The version suffix leaves room for a future algorithm change.
const (
	DomainInvocation = "hobbysync/invocation/v1"
	DomainCompletion = "hobbysync/completion/v1"
	DomainBinding    = "hobbysync/binding/v1"
)

// hashWithDomain returns hex(SHA256(domain || 0x00 || data)).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvocationID derives the content id of an invocation. The same flow,
// action, args and sequence number always produce the same id, so a
// replayed invocation collides with its original row.
func InvocationID(flowToken, actionURI string, args IRObject, seq int64) (string, error) {
	canonical, err := MarshalCanonical(IRObject{
		"flow_token": IRString(flowToken),
		"action_uri": IRString(actionURI),
		"args":       args,
		"seq":        IRInt(seq),
	})
	if err != nil {
		return "", fmt.Errorf("invocation id: %w", err)
	}
	return hashWithDomain(DomainInvocation, canonical), nil
}

// CompletionID derives the content id of a completion.
func CompletionID(invocationID, outputCase string, result IRObject, seq int64) (string, error) {
	canonical, err := MarshalCanonical(IRObject{
		"invocation_id": IRString(invocationID),
		"output_case":   IRString(outputCase),
		"result":        result,
		"seq":           IRInt(seq),
	})
	if err != nil {
		return "", fmt.Errorf("completion id: %w", err)
	}
	return hashWithDomain(DomainCompletion, canonical), nil
}

// BindingHash hashes a frame. Together with the completion and sync ids
// it keys a sync firing.
func BindingHash(bindings IRObject) (string, error) {
	canonical, err := MarshalCanonical(bindings)
	if err != nil {
		return "", fmt.Errorf("binding hash: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// MustBindingHash panics on error. Tests only.
func MustBindingHash(bindings IRObject) string {
	h, err := BindingHash(bindings)
	if err != nil {
		panic(err)
	}
	return h
}
