package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

func required(data map[string]any, key string) (string, error) {
	if v := str(data, key); v != "" {
		return v, nil
	}
	return "", goerrors.New("missing required field "+key, goerrors.CategoryValidation).
		WithTextCode(TextCodeMissingField).
		WithMetadata(map[string]any{"field": key})
}

func collaboratorErr(err error, op, id string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, op+" "+id).
		WithTextCode(TextCodeCollaborator)
}

func str(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// truthy accepts the boolean encodings senders actually use.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case json.Number:
		n, err := t.Float64()
		return err == nil && n != 0
	case float64:
		return t != 0
	}
	return false
}
