package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittolock/internal/logger"
	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// AdminDB is the database whose intent-exclusive locks are escalated to X.
const AdminDB = "admin"

// ============================================================================
// Database Lock
// ============================================================================

// DBLock holds a database resource together with the Global intent lock
// that protects it.
type DBLock struct {
	locker *lock.Locker
	db     string
	id     lock.ResourceID
	mode   lock.Mode

	global *GlobalLock
	held   bool
}

// ValidateDatabaseName rejects empty names and names containing '.'.
func ValidateDatabaseName(db string) error {
	if db == "" || strings.Contains(db, ".") {
		return lockerrors.NewInvalidDatabaseNameError(db)
	}
	return nil
}

// NewDBLock takes Global at the intent projection of mode and then db in
// mode, using the manager's default timeout. IX on the admin database is
// taken as X.
func NewDBLock(ctx context.Context, l *lock.Locker, db string, mode lock.Mode) (*DBLock, error) {
	if err := ValidateDatabaseName(db); err != nil {
		return nil, err
	}

	d := &DBLock{
		locker: l,
		db:     db,
		id:     lock.DatabaseResource(db),
		mode:   effectiveDBMode(db, mode),
	}
	timeout := defaultTimeout(l)

	d.global = NewGlobalLock(ctx, l, lock.IntentMode(d.mode), timeout)
	if err := d.global.Err(); err != nil {
		return nil, fmt.Errorf("lock database %s: %w", db, err)
	}

	if err := l.Lock(ctx, d.id, d.mode, timeout); err != nil {
		d.global.Unlock()
		logger.DebugCtx(ctx, "Database lock not acquired",
			logger.LockerID(uint64(l.ID())),
			logger.Namespace(db),
			logger.LockMode(d.mode.String()),
			logger.Err(err))
		return nil, fmt.Errorf("lock database %s: %w", db, err)
	}

	d.held = true
	return d, nil
}

func effectiveDBMode(db string, mode lock.Mode) lock.Mode {
	if db == AdminDB && mode == lock.ModeIX {
		return lock.ModeX
	}
	return mode
}

// Database returns the database name.
func (d *DBLock) Database() string {
	return d.db
}

// Resource returns the database resource id.
func (d *DBLock) Resource() lock.ResourceID {
	return d.id
}

// Mode returns the mode the database is held in.
func (d *DBLock) Mode() lock.Mode {
	return d.mode
}

// IsLocked reports whether the database lock is held.
func (d *DBLock) IsLocked() bool {
	return d.held
}

// Locker returns the locker the lock belongs to.
func (d *DBLock) Locker() *lock.Locker {
	return d.locker
}

// RelockWithMode releases the database resource and re-acquires it in mode,
// keeping the Global intent lock. Moving from a shared mode (IS, S) to an
// exclusive one (IX, X) is rejected: the Global lock underneath is only IS.
//
// If the re-acquisition fails the database is no longer held, but the Global
// intent lock stays until Unlock.
func (d *DBLock) RelockWithMode(ctx context.Context, mode lock.Mode) error {
	if !d.held {
		return lockerrors.NewNotLockedError(d.id.String())
	}

	newMode := effectiveDBMode(d.db, mode)
	if lock.IsSharedMode(d.mode) && !lock.IsSharedMode(newMode) {
		return lockerrors.NewInvalidRelockError(d.id.String(), d.mode.String(), newMode.String())
	}

	// Only this wrapper's recursion level is released; an enclosing scope
	// holding the same database turns the re-acquisition into a conversion.
	d.locker.Unlock(d.id)
	d.held = false

	if err := d.locker.Lock(ctx, d.id, newMode, defaultTimeout(d.locker)); err != nil {
		return fmt.Errorf("relock database %s: %w", d.db, err)
	}
	d.mode = newMode
	d.held = true
	return nil
}

// RelockAsDatabaseExclusive releases coll (if not nil) and re-acquires the
// database in X. Used when an operation discovers it must create a namespace.
func (d *DBLock) RelockAsDatabaseExclusive(ctx context.Context, coll *CollectionLock) error {
	if lock.IsSharedMode(d.mode) {
		return lockerrors.NewInvalidRelockError(d.id.String(), d.mode.String(), lock.ModeX.String())
	}
	if coll != nil {
		coll.Unlock()
	}
	return d.RelockWithMode(ctx, lock.ModeX)
}

// Unlock releases the database and the Global intent lock. Safe to call
// more than once.
func (d *DBLock) Unlock() {
	if d.held {
		d.held = false
		d.locker.Unlock(d.id)
	}
	d.global.Unlock()
}

// ============================================================================
// Collection Lock
// ============================================================================

// CollectionLock holds a collection resource under a DBLock.
type CollectionLock struct {
	locker *lock.Locker
	ns     string
	id     lock.ResourceID
	mode   lock.Mode
	held   bool
}

// NewCollectionLock locks the namespace ns ("db.coll") under db.
//
// The database must be held in a mode covering the intent projection of
// mode. Without document-level locking, IS is taken as S and IX as X.
func NewCollectionLock(ctx context.Context, db *DBLock, ns string, mode lock.Mode) (*CollectionLock, error) {
	if db == nil || !db.IsLocked() {
		return nil, lockerrors.NewNotLockedError(ns)
	}
	if lock.DatabaseOf(ns) != db.Database() || !strings.Contains(ns, ".") {
		return nil, lockerrors.NewInvariantError("collection %q is not in database %q", ns, db.Database())
	}
	if !lock.IsModeCovered(lock.IntentMode(mode), db.Mode()) {
		return nil, lockerrors.NewInvariantError("collection %s in %s requires more than database %s",
			ns, mode, db.Mode())
	}

	l := db.Locker()
	actual := mode
	if cfg := l.Manager().Config(); !cfg.DocumentLevelLocking {
		switch mode {
		case lock.ModeIS:
			actual = lock.ModeS
		case lock.ModeIX:
			actual = lock.ModeX
		}
	}

	c := &CollectionLock{
		locker: l,
		ns:     ns,
		id:     lock.CollectionResource(ns),
		mode:   actual,
	}
	if err := l.Lock(ctx, c.id, actual, defaultTimeout(l)); err != nil {
		logger.DebugCtx(ctx, "Collection lock not acquired",
			logger.LockerID(uint64(l.ID())),
			logger.Namespace(ns),
			logger.LockMode(actual.String()),
			logger.Err(err))
		return nil, fmt.Errorf("lock collection %s: %w", ns, err)
	}

	c.held = true
	return c, nil
}

// Namespace returns the collection namespace.
func (c *CollectionLock) Namespace() string { return c.ns }

// Mode returns the mode actually held.
func (c *CollectionLock) Mode() lock.Mode { return c.mode }

// IsLocked reports whether the collection lock is held.
func (c *CollectionLock) IsLocked() bool { return c.held }

// Unlock releases the collection. Safe to call more than once.
func (c *CollectionLock) Unlock() {
	if !c.held {
		return
	}
	c.held = false
	c.locker.Unlock(c.id)
}
