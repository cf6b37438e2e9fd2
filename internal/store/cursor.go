package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathmark/pathmark/internal/apperr"
)

// EncodeCursor builds the opaque "timestamp:uuid" base64 pagination token
// of orig spec §4.4.
func EncodeCursor(capturedAt time.Time, id string) string {
	raw := fmt.Sprintf("%d:%s", capturedAt.UnixMilli(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, apperr.NewValidation("invalid cursor", map[string]any{"cursor": token})
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return nil, apperr.NewValidation("invalid cursor", map[string]any{"cursor": token})
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, apperr.NewValidation("invalid cursor", map[string]any{"cursor": token})
	}
	return &Cursor{CapturedAt: time.UnixMilli(ms).UTC(), ID: parts[1]}, nil
}
