package export

import (
	"context"
	"errors"
	"fmt"
)

// Sealer encrypts session strings at rest. aad binds a ciphertext to its session id.
type Sealer interface {
	Seal(plaintext, aad []byte) (string, error)
	Open(sealed string, aad []byte) ([]byte, error)
}

// SealedStore seals SessionString before delegating to the wrapped Store and
// opens it on Load.
type SealedStore struct {
	next   Store
	sealer Sealer
}

// NewSealedStore wraps next.
func NewSealedStore(next Store, sealer Sealer) (*SealedStore, error) {
	if next == nil || sealer == nil {
		return nil, errors.New("export: sealed store needs a backend and a sealer")
	}
	return &SealedStore{next: next, sealer: sealer}, nil
}

func (s *SealedStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	sealed, err := s.sealer.Seal([]byte(rec.SessionString), []byte(rec.SessionID))
	if err != nil {
		return fmt.Errorf("export: seal: %w", err)
	}
	rec.SessionString = sealed
	return s.next.Save(ctx, rec)
}

func (s *SealedStore) Load(ctx context.Context, sessionID string) (Record, error) {
	rec, err := s.next.Load(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	plain, err := s.sealer.Open(rec.SessionString, []byte(rec.SessionID))
	if err != nil {
		return Record{}, fmt.Errorf("export: open %s: %w", sessionID, err)
	}
	rec.SessionString = string(plain)
	return rec, nil
}

func (s *SealedStore) Close() error { return s.next.Close() }
