package perm

import (
	"os"
	"strconv"
	"strings"
	"time"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/store"
)

// LockTTL is how long a row lock holds before it lapses. Zero means locks
// hold until released. Override with SCOREMATRIX_LOCK_TTL_SECONDS.
func LockTTL() time.Duration {
	if s := os.Getenv("SCOREMATRIX_LOCK_TTL_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

// CanEditTaxon enforces row ownership for mutating the cells of a taxon.
//
// Rules:
//   - An unlocked row is editable by anyone with a user id.
//   - A locked row is editable only by the lock holder, until the lock lapses.
func CanEditTaxon(userID string, t *model.Taxon, now time.Time) bool {
	if t == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	return !t.LockedAgainst(userID, now, LockTTL())
}

// Access answers edit checks for one user against a snapshot.
type Access struct {
	db     *store.DB
	userID string
	now    func() time.Time
}

func ForUser(db *store.DB, userID string) Access {
	return Access{db: db, userID: strings.TrimSpace(userID), now: func() time.Time { return time.Now().UTC() }}
}

// CanEditTaxon reports whether the user may edit cells of taxonID. Unknown
// taxa are not editable.
func (a Access) CanEditTaxon(taxonID int64) bool {
	if a.db == nil {
		return false
	}
	t, ok := a.db.FindTaxon(taxonID)
	if !ok {
		return false
	}
	return CanEditTaxon(a.userID, t, a.now())
}

// LockHolder returns who holds the lock on taxonID, if anyone.
func (a Access) LockHolder(taxonID int64) string {
	if a.db == nil {
		return ""
	}
	t, ok := a.db.FindTaxon(taxonID)
	if !ok || t.LockedBy == nil {
		return ""
	}
	return *t.LockedBy
}
