package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/open-sspm/egress-provisioner/internal/provision"
)

// envelope is the {success, error, data} result every API procedure returns.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// call runs a procedure returning a single JSON envelope and yields its data.
// A success=false answer becomes a *provision.RejectedError.
func (p *Platform) call(ctx context.Context, op, sql string, args ...any) (json.RawMessage, error) {
	var raw []byte
	if err := p.db.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return parseEnvelope(op, raw)
}

func parseEnvelope(op string, raw []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("%s: empty result", op)
	}
	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", op, err)
	}
	if !env.Success {
		return nil, &provision.RejectedError{Operation: op, Message: env.Error}
	}
	return env.Data, nil
}

func decodeData(data json.RawMessage, dst any) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal([]byte(trimmed), dst)
}

var (
	unquotedIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
	quotedIdentifier   = regexp.MustCompile(`^"[^"]+"$`)

	errInvalidIdentifier = errors.New("invalid identifier")
)

// ValidateIdentifier accepts a possibly qualified SQL identifier whose parts
// are plain or double-quoted names. Names cannot be bound as parameters in DDL,
// so anything else is rejected before it reaches a statement.
func ValidateIdentifier(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", errInvalidIdentifier)
	}
	for _, part := range splitIdentifier(name) {
		if !unquotedIdentifier.MatchString(part) && !quotedIdentifier.MatchString(part) {
			return fmt.Errorf("%w: %q", errInvalidIdentifier, name)
		}
	}
	return nil
}

// splitIdentifier splits on dots outside double quotes.
func splitIdentifier(name string) []string {
	var (
		parts  []string
		b      strings.Builder
		quoted bool
	)
	for _, r := range name {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == '.' && !quoted:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	return append(parts, b.String())
}
