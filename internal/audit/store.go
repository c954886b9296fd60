// Package audit persists finished runs and their removal outcomes.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bakkerme/culler/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

// Store records runs and looks them up by id.
type Store interface {
	Record(ctx context.Context, run *core.Run) error
	Get(ctx context.Context, id string) (*core.Run, error)
	// List returns the most recent runs first. A limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*core.Run, error)
	Close() error
}

// Open returns the store for driver, or nil when driver is empty.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return nil, nil
	case "sqlite":
		return NewSQLiteStore(dsn, "")
	case "badger":
		return NewBadgerStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q (want sqlite or badger)", driver)
	}
}
