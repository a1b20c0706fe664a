package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/safar/go-storefront/internal/models"
)

// decodeList reads a list response. The backend wraps lists in an envelope
// keyed by resource name; older endpoints return the bare array.
func decodeList[T any](body []byte, field string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []T{}, nil
	}

	raw := json.RawMessage(body)
	if body[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", field, err)
		}
		inner, ok := envelope[field]
		if !ok {
			inner, ok = envelope["data"]
		}
		if !ok {
			return []T{}, nil
		}
		raw = inner
	}

	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// decodeEntity reads a single object that may or may not be wrapped in
// {"<field>": {...}}.
func decodeEntity(body []byte, field string, out any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	if inner, ok := envelope[field]; ok {
		body = inner
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}

func decodeOrder(body []byte) (*models.Order, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	raw, ok := envelope["order"]
	if !ok {
		if _, hasID := envelope["id"]; !hasID {
			return nil, nil
		}
		raw = body
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}
