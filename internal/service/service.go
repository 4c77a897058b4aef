// Package service contains the business logic layer of the application.
//
// THE THREE LAYERS:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes SQLite or MongoDB
//
// Services only see the repository interfaces, never a concrete store, so
// the same rules run against either backend and against the in-memory
// SQLite store the tests use.
//
// ERRORS:
// Validation, permission and lookup failures are returned as apperror
// values; the handler layer maps them to status codes. Anything else is an
// internal error and is wrapped with the "service/<area>:" prefix.
package service

import (
	"strings"
	"unicode/utf8"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/geo"
)

// requireText trims s and checks it against [min, max] runes.
func requireText(field, s string, min, max int) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0 && min > 0:
		return "", apperror.ValidationFailed(field, field+" is required")
	case n < min:
		return "", apperror.ValidationFailed(field, field+" is too short")
	case max > 0 && n > max:
		return "", apperror.ValidationFailed(field, field+" is too long")
	}
	return s, nil
}

func validatePoint(field string, p *geo.Point) error {
	if p != nil && !p.Valid() {
		return apperror.ValidationFailed(field, "latitude must be within ±90 and longitude within ±180")
	}
	return nil
}

// cleanList trims entries, drops blanks and duplicates, and keeps order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
