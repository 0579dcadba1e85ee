// Package credstore holds the current access and refresh credentials. It is
// pure storage: no network access and no validation of credential values.
// Every write is visible to the next read; implementations never cache.
package credstore

import (
	"errors"
	"fmt"
)

// Kind names one of the two persisted credential entries.
type Kind string

// Fixed entry names of the persisted state layout.
const (
	KindAccess  Kind = "na.accessToken"
	KindRefresh Kind = "na.refreshToken"
)

// ErrUnknownKind is returned when a caller passes a Kind other than
// KindAccess or KindRefresh.
var ErrUnknownKind = errors.New("credstore: unknown credential kind")

// Pair is an access/refresh credential pair. A pair with either half empty
// is treated as absent.
type Pair struct {
	Access  string
	Refresh string
}

// Complete reports whether both halves of the pair are present.
func (p Pair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// Store is the credential storage contract. Get returns "" for an absent
// entry. SetPair replaces both entries in a single write.
type Store interface {
	Get(kind Kind) (string, error)
	Set(kind Kind, value string) error
	SetPair(p Pair) error
	Clear() error
}

// LoadPair reads both entries. ok is false when either entry is missing.
func LoadPair(s Store) (Pair, bool, error) {
	access, err := s.Get(KindAccess)
	if err != nil {
		return Pair{}, false, err
	}

	refresh, err := s.Get(KindRefresh)
	if err != nil {
		return Pair{}, false, err
	}

	p := Pair{Access: access, Refresh: refresh}
	if !p.Complete() {
		return Pair{}, false, nil
	}

	return p, true, nil
}

// SavePair writes a complete pair. Partial pairs are rejected so the store
// never holds one half of a rotation.
func SavePair(s Store, p Pair) error {
	if !p.Complete() {
		return fmt.Errorf("credstore: refusing to save partial credential pair")
	}

	return s.SetPair(p)
}

func validKind(kind Kind) error {
	switch kind {
	case KindAccess, KindRefresh:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}
