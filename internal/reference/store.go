// Package reference owns the single frame new captures are compared against.
package reference

import (
	"sync/atomic"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/syncx"
)

// Store holds the current reference frame. Replace is the only mutator.
type Store struct {
	ref     *syncx.RWGuard[*frame.Frame]
	version atomic.Uint64
}

// NewStore creates a store seeded with the startup reference.
func NewStore(initial *frame.Frame) (*Store, error) {
	if initial == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "reference store needs an initial frame")
	}
	return &Store{ref: syncx.NewGuard(initial)}, nil
}

// Current returns the reference frame.
func (s *Store) Current() *frame.Frame {
	return s.ref.Get()
}

// Replace installs f as the new reference.
func (s *Store) Replace(f *frame.Frame) error {
	if f == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "cannot replace reference with nil frame")
	}
	s.ref.Swap(f)
	s.version.Add(1)
	return nil
}

// Version counts replacements since the store was created.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
