package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kpiprogress/internal/core"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a single JSON object into dst. Unknown fields and
// trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errBadRequest)
	}
	return nil
}

// readingInput accepts a number, a decimal string ("12,5") or null. Year,
// when sent, must be the selected year of the session.
type readingInput struct {
	Value json.RawMessage `json:"value"`
	Year  *int            `json:"year,omitempty"`
}

func (in readingInput) reading() (core.Reading, error) {
	raw := strings.TrimSpace(string(in.Value))
	switch {
	case raw == "" || raw == "null":
		return core.None(), nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return core.None(), fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return core.ParseReading(sanitizeInput(s))
	default:
		return core.ParseReading(raw)
	}
}

type openSessionInput struct {
	ParentRef int64 `json:"parentRef"`
}

type selectYearInput struct {
	Year int `json:"year"`
}

type usesAverageInput struct {
	UsesAverage bool `json:"usesAverage"`
	Year        *int `json:"year,omitempty"`
}

// checkYear rejects an edit addressed to another year than the one the
// session has selected. A nil year means the selected one.
func checkYear(sess *core.Session, year *int) error {
	if year == nil || *year == sess.SelectedYear() {
		return nil
	}
	return fmt.Errorf("%w: edit is for %d, session shows %d", errYearMismatch, *year, sess.SelectedYear())
}

// parseParentRef validates a connection id taken from a form or a body.
func parseParentRef(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid parent reference %q", errBadRequest, s)
	}
	return id, nil
}

// parseMonth resolves the {month} path value.
func parseMonth(s string) (core.Month, error) {
	m, ok := core.ParseMonth(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidMonth, s)
	}
	return m, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
