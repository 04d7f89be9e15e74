// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// the owner header, path ids, query windows and JSON bodies.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pocketledger/internal/core"
)

// HeaderOwnerID carries the authenticated owner, set by the fronting gateway.
const HeaderOwnerID = "X-Owner-ID"

const (
	maxBodyBytes   = 1 << 20
	maxOwnerLength = 128
	dateLayout     = "2006-01-02"
)

var errBadOwner = errors.New("missing or malformed " + HeaderOwnerID)

type ownerKey struct{}

// requireOwner rejects requests without a usable owner id and stores it in
// the request context.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := parseOwner(r)
		if err != nil {
			ErrorResponse(http.StatusUnauthorized, CodeUnauthorized, err.Error()).Write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func parseOwner(r *http.Request) (string, error) {
	owner := sanitizeInput(r.Header.Get(HeaderOwnerID))
	if owner == "" || len(owner) > maxOwnerLength || strings.ContainsAny(owner, " \t\r\n") {
		return "", errBadOwner
	}
	return owner, nil
}

// ownerFrom returns the owner stored by requireOwner.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// pathID parses the {name} wildcard as a positive id.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// decodeJSON reads a single JSON object into dst, refusing unknown fields
// and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// parseTimeParam accepts RFC 3339 or YYYY-MM-DD (midnight in loc). An
// empty value yields the zero time.
func parseTimeParam(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

// parsePeriod validates an optional period query value.
func parsePeriod(value string) (core.Period, error) {
	p := core.Period(strings.ToLower(strings.TrimSpace(value)))
	if p == "" || p.IsValid() {
		return p, nil
	}
	return "", core.Invalid("period", core.ErrInvalidPeriod)
}

// parseLanguage returns a short language tag such as "en" or "pt-BR",
// defaulting to "en".
func parseLanguage(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "en", nil
	}
	if len(value) > 10 {
		return "", fmt.Errorf("invalid language %q", value)
	}
	for _, r := range value {
		if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return "", fmt.Errorf("invalid language %q", value)
		}
	}
	return value, nil
}
