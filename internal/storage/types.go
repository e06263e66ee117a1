package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStore marks any read/write fault at the store boundary.
	ErrStore = errors.New("progress store failure")
	// ErrClosed is returned (wrapped in ErrStore) after Close.
	ErrClosed = errors.New("store closed")
	// ErrInvalidRecord rejects empty identities and negative days.
	ErrInvalidRecord = errors.New("invalid recipient record")
)

// Config configures storage.
//
// If Driver is empty it defaults to "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecipientState is the persisted shape of one recipient.
type RecipientState struct {
	Identity string `json:"identity"`
	Day      int    `json:"day"`
}

// Store is the progress persistence contract.
//
// Get distinguishes an absent recipient (ok=false) from one at day 0.
// Upsert is create-or-replace. ListAll order is unspecified.
type Store interface {
	Get(ctx context.Context, identity string) (day int, ok bool, err error)
	Upsert(ctx context.Context, identity string, day int) error
	ListAll(ctx context.Context) ([]string, error)
	Close() error
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("storage %s: %w: %w", op, ErrStore, err)
}

func validate(identity string, day int) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: empty identity", ErrInvalidRecord)
	}
	if day < 0 {
		return fmt.Errorf("%w: day %d < 0", ErrInvalidRecord, day)
	}
	return nil
}
