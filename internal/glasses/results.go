package glasses

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chaz8081/g1link/internal/ble"
)

// ErrNoSessions means an operation had no connected lens to go to.
var ErrNoSessions = errors.New("glasses: no sessions")

// Results holds the per-side outcome of a fanned-out operation. A nil
// value means that side succeeded.
type Results map[ble.Side]error

// OK reports whether every side succeeded.
func (r Results) OK() bool {
	return len(r) > 0 && r.Err() == nil
}

// Err joins the per-side failures, or returns ErrNoSessions when nothing
// was attempted.
func (r Results) Err() error {
	if len(r) == 0 {
		return ErrNoSessions
	}
	sides := make([]string, 0, len(r))
	for side := range r {
		sides = append(sides, string(side))
	}
	sort.Strings(sides)

	var errs []error
	for _, side := range sides {
		if err := r[ble.Side(side)]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", side, err))
		}
	}
	return errors.Join(errs...)
}
