package filter

import (
	"fmt"
	"time"

	"github.com/bakkerme/culler/internal/core"
)

// OlderThan matches resources last used more than maxAge before now(). Resources
// with no recorded last use never match. A nil now uses time.Now.
func OlderThan(maxAge time.Duration, now func() time.Time) (core.Predicate, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("older-than filter requires a positive age, got %s", maxAge)
	}
	if now == nil {
		now = time.Now
	}
	return Func(fmt.Sprintf("older than %s", maxAge), func(r core.Resource) (bool, error) {
		if r.LastUsedAt.IsZero() {
			return false, nil
		}
		return now().Sub(r.LastUsedAt) > maxAge, nil
	}), nil
}
