// Package throttle suppresses repeated alerts for the same failure signature.
package throttle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ameistad/shipyard/internal/kvstore"
)

// Throttle allows one alert per signature per cooldown window. Entries are
// never removed; a signature that reappears after the window alerts again.
type Throttle struct {
	store    kvstore.Store
	cooldown time.Duration
}

func New(store kvstore.Store, cooldown time.Duration) *Throttle {
	return &Throttle{store: store, cooldown: cooldown}
}

// Allow reports whether an alert for signature may be sent at now, and if so
// records now as the last send time. When two callers race, only the one
// whose swap lands is allowed.
func (t *Throttle) Allow(signature string, now time.Time) (bool, error) {
	due, prev, err := t.Due(signature, now)
	if err != nil || !due {
		return false, err
	}
	return t.Record(signature, prev, now)
}

// Due reports whether the cooldown for signature has elapsed at now. prev is
// the stored value to hand back to Record.
func (t *Throttle) Due(signature string, now time.Time) (due bool, prev string, err error) {
	last, ok, err := t.store.Get(signature)
	if err != nil {
		return false, "", fmt.Errorf("failed to read throttle entry: %w", err)
	}
	if !ok {
		return true, "", nil
	}
	sentAt, err := strconv.ParseInt(last, 10, 64)
	if err == nil && now.Sub(time.Unix(sentAt, 0)) < t.cooldown {
		return false, last, nil
	}
	return true, last, nil
}

// Record stores now as the last send time for signature if the entry still
// holds prev. It returns false when another invocation recorded first.
func (t *Throttle) Record(signature, prev string, now time.Time) (bool, error) {
	swapped, err := t.store.CompareAndSwap(signature, prev, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return false, fmt.Errorf("failed to record throttle entry: %w", err)
	}
	return swapped, nil
}
