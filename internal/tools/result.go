package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"ankicli/internal/anki"
)

// ResultKind classifies a failed Tool Result.
type ResultKind string

const (
	KindStoreUnreachable ResultKind = "store_unreachable"
	KindValidation       ResultKind = "validation"
	KindRemoteRejected   ResultKind = "remote_rejected"
	KindNotFound         ResultKind = "not_found"
	KindInternal         ResultKind = "internal"
)

// Result is the common part of every Tool Result envelope.
type Result struct {
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	Kind      ResultKind `json:"kind,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// ParseResult decodes the envelope fields of a tool turn's content.
func ParseResult(content string) (Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return Result{}, fmt.Errorf("parse tool result: %w", err)
	}
	return r, nil
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":"marshal result: %s","kind":"internal"}`, err.Error())
	}
	return string(data)
}

// okResult merges payload with ok:true.
func okResult(payload map[string]any) string {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["ok"] = true
	return mustJSON(out)
}

// classify maps an error onto the result taxonomy.
func classify(err error) (ResultKind, bool) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, ErrUnknownTool):
		return KindValidation, false
	}
	var ae *anki.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case anki.KindUnreachable:
			return KindStoreUnreachable, false
		case anki.KindValidation:
			return KindValidation, false
		case anki.KindRemote:
			return KindRemoteRejected, false
		case anki.KindNotFound:
			return KindNotFound, false
		default:
			return KindInternal, ae.Retryable()
		}
	}
	return KindInternal, false
}

func errorResult(err error) string {
	kind, retryable := classify(err)
	return mustJSON(Result{OK: false, Error: err.Error(), Kind: kind, Retryable: retryable})
}
