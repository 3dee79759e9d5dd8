// Package target turns finished solve results into catalog entries. All
// functions are pure: the caller owns the catalog and applies the outcome.
package target

import (
	"time"

	"github.com/google/uuid"
)

// Type buckets a target by the kind of object dominating the field.
type Type string

const (
	TypeGalaxy  Type = "galaxy"
	TypeNebula  Type = "nebula"
	TypeCluster Type = "cluster"
	TypeOther   Type = "other"
)

// StatusAcquiring marks a target that is still collecting frames. Newly
// created targets always start here; later lifecycle states belong to the
// caller's catalog, not this package.
const StatusAcquiring = "acquiring"

// Target is a catalog entry. RA and Dec are in degrees; nil means the
// coordinates are unknown and coordinate matching skips the target.
type Target struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Aliases  []string  `json:"aliases,omitempty"`
	Type     Type      `json:"type"`
	RA       *float64  `json:"ra,omitempty"`
	Dec      *float64  `json:"dec,omitempty"`
	ImageIDs []string  `json:"imageIds,omitempty"`
	Status   string    `json:"status"`
	Changes  []Change  `json:"changes,omitempty"`
	Created  time.Time `json:"created"`
}

// Change is one entry in a target's change log.
type Change struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func newID() string { return uuid.NewString() }
