// Package uuid generates and checks queued action ids.
//
// Ids are UUID v7 in canonical 36-character form. The leading 48 bits
// hold the creation time in Unix milliseconds, so ids generated by
// one process sort in creation order.
package uuid

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
)

const canonicalLen = 36

// New returns a fresh v7 id. If the random source fails it returns a
// v4 id instead, which is still unique but carries no timestamp.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Parse decodes s as a canonical v7 id. Braced, URN and undashed
// forms are rejected even though google/uuid accepts them.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != canonicalLen {
		return uuid.Nil, apperrors.Newf(apperrors.ErrInvalid, "action id %q is not in canonical form", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrInvalid, "action id "+s+" is malformed", err)
	}
	if id.Variant() != uuid.RFC4122 {
		return uuid.Nil, apperrors.Newf(apperrors.ErrInvalid, "action id %q has variant %s", s, id.Variant())
	}
	if id.Version() != 7 {
		return uuid.Nil, apperrors.Newf(apperrors.ErrInvalid, "action id %q is version %d, want 7", s, id.Version())
	}
	return id, nil
}

// Validate is Parse without the result.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// IsValid reports whether s is a canonical v7 id.
func IsValid(s string) bool {
	return Validate(s) == nil
}

// Time returns the creation time encoded in a v7 id.
func Time(s string) (time.Time, error) {
	id, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
