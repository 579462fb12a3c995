package correlation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint hashes a tool call so that the host-side hook and the tool
// server compute the same key. Parameter key order never matters: params
// are round-tripped through JSON, which emits object keys sorted.
func Fingerprint(toolName string, params any) (string, error) {
	canonical, err := Canonical(params)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256([]byte(NormalizeToolName(toolName) + "\x00" + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Canonical renders params as compact JSON with sorted keys. Raw JSON
// ([]byte, json.RawMessage) is decoded first, so a payload and the
// equivalent Go map produce the same text. nil renders as {}.
func Canonical(params any) (string, error) {
	var v any
	switch p := params.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &v); err != nil {
			return "", fmt.Errorf("decode params: %w", err)
		}
	case []byte:
		if err := json.Unmarshal(p, &v); err != nil {
			return "", fmt.Errorf("decode params: %w", err)
		}
	default:
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode params: %w", err)
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("decode params: %w", err)
		}
	}
	if v == nil {
		return "{}", nil
	}

	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode canonical params: %w", err)
	}
	return string(out), nil
}

// NormalizeToolName lower-cases the name and strips the host's
// "mcp__<server>__" qualifier, so "mcp__Notes__Search" and "search" agree.
func NormalizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if parts := strings.SplitN(name, "__", 3); len(parts) == 3 && parts[0] == "mcp" {
		return parts[2]
	}
	return name
}
