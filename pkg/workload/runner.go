// Package workload drives concurrent clients through the lock hierarchy and
// checks, from the outside, that the manager never grants incompatible locks.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	lockerrors "github.com/marmos91/dittolock/pkg/concurrency/errors"
	"github.com/marmos91/dittolock/pkg/concurrency/guard"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
)

// MutexName is the resource mutex used by OpMutex.
const MutexName = "workload.catalog"

// Runner executes a workload against a lock manager.
type Runner struct {
	cfg     Config
	manager *lock.Manager
	tickets *lock.TicketHolder
	store   *snapshot.Store
	mutex   *guard.ResourceMutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithTicketHolder makes every client locker take tickets from th.
func WithTicketHolder(th *lock.TicketHolder) Option {
	return func(r *Runner) {
		r.tickets = th
	}
}

// WithStore gives every client a recovery unit on s: reads go through a
// Global-scoped snapshot and writes are committed to s.
func WithStore(s *snapshot.Store) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// NewRunner creates a runner. Zero-valued config fields take defaults.
func NewRunner(m *lock.Manager, cfg Config, opts ...Option) *Runner {
	cfg.ApplyDefaults()
	r := &Runner{
		cfg:     cfg,
		manager: m,
		mutex:   guard.NewResourceMutex(m, MutexName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run starts the clients and waits for them to finish. Clients stop after
// their operation count, when Duration elapses or when ctx is cancelled.
// Timeouts and deadlocks are counted, not returned; any other failure stops
// the run and is returned together with the partial result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "workload.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("workload.clients", r.cfg.Clients),
		attribute.Int("workload.operations", r.cfg.Operations),
	)

	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	seed := r.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	checker := newExclusivityChecker()
	stats := make([]*clientStats, r.cfg.Clients)

	logger.InfoCtx(ctx, "Workload starting",
		logger.Clients(r.cfg.Clients),
		logger.Count(r.cfg.Operations),
		"seed", seed)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := range stats {
		c := r.newClient(i, seed, checker)
		stats[i] = c.stats
		g.Go(func() error {
			return c.run(gctx)
		})
	}
	err := g.Wait()

	res := summarize(r.cfg.Clients, seed, time.Since(start), stats, checker.Violations())
	span.SetAttributes(attribute.Int64("workload.violations", res.Violations))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorCtx(ctx, "Workload failed", logger.Err(err))
		return res, err
	}

	logger.InfoCtx(ctx, "Workload finished",
		logger.Operations(res.Operations),
		logger.Violations(res.Violations),
		logger.DurationMs(float64(res.Elapsed.Microseconds())/1000.0))
	return res, nil
}

// ============================================================================
// Client
// ============================================================================

type client struct {
	r       *Runner
	id      string
	rng     *rand.Rand
	picker  picker
	ru      *snapshot.RecoveryUnit
	checker *exclusivityChecker
	stats   *clientStats
}

func (r *Runner) newClient(i int, seed uint64, checker *exclusivityChecker) *client {
	c := &client{
		r:       r,
		id:      uuid.New().String()[:8],
		rng:     rand.New(rand.NewPCG(seed, uint64(i))),
		picker:  newPicker(r.cfg.Mix),
		checker: checker,
		stats:   &clientStats{},
	}
	if r.store != nil {
		c.ru = r.store.NewRecoveryUnit()
	}
	return c
}

func (c *client) run(ctx context.Context) error {
	if c.ru != nil {
		defer c.ru.Close()
	}

	limit := c.r.cfg.Operations
	for n := 0; limit == 0 || n < limit; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.step(ctx, c.picker.pick(c.rng)); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) step(ctx context.Context, op Operation) error {
	ctx, span := telemetry.StartWorkloadSpan(ctx, op.String(), c.id)
	defer span.End()

	opts := []lock.LockerOption{}
	if c.r.tickets != nil {
		opts = append(opts, lock.WithTicketHolder(c.r.tickets))
	}
	if c.ru != nil {
		opts = append(opts, lock.WithSnapshotObserver(c.ru))
	}
	l := lock.NewLocker(c.r.manager, opts...)

	wait, err := c.execute(ctx, l, op)
	switch {
	case err == nil:
		c.stats.record(op, wait)
	case lockerrors.IsTimeoutError(err):
		c.stats.timeouts[op]++
	case lockerrors.IsDeadlockError(err):
		c.stats.deadlocks[op]++
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return nil
	default:
		span.RecordError(err)
		return fmt.Errorf("client %s: %s: %w", c.id, op, err)
	}
	c.stats.ops++

	if err := l.Close(); err != nil {
		return fmt.Errorf("client %s: %s left locks behind: %w", c.id, op, err)
	}
	return nil
}

func (c *client) execute(ctx context.Context, l *lock.Locker, op Operation) (time.Duration, error) {
	switch op {
	case OpGlobalRead:
		return c.globalOp(ctx, l, lock.ModeS)
	case OpGlobalWrite:
		return c.globalOp(ctx, l, lock.ModeX)
	case OpDatabaseRead:
		return c.databaseOp(ctx, l, lock.ModeS)
	case OpDatabaseX:
		return c.databaseOp(ctx, l, lock.ModeX)
	case OpDatabaseWrite:
		return c.createCollectionOp(ctx, l)
	case OpCollectionRead:
		return c.collectionOp(ctx, l, lock.ModeIS)
	case OpCollectionWrite:
		return c.collectionOp(ctx, l, lock.ModeIX)
	case OpMutex:
		return c.mutexOp(ctx, l)
	case OpTempRelease:
		return c.tempReleaseOp(ctx, l)
	default:
		return 0, fmt.Errorf("unknown operation %d", op)
	}
}

// ============================================================================
// Operations
// ============================================================================

const globalKey = "global"

func (c *client) globalOp(ctx context.Context, l *lock.Locker, mode lock.Mode) (time.Duration, error) {
	start := time.Now()
	g := guard.NewGlobalLock(ctx, l, mode, c.r.cfg.Timeout)
	if err := g.Err(); err != nil {
		return 0, err
	}
	defer g.Unlock()
	wait := time.Since(start)

	return wait, c.hold(ctx, globalKey, mode, c.databaseName())
}

func (c *client) databaseOp(ctx context.Context, l *lock.Locker, mode lock.Mode) (time.Duration, error) {
	db := c.databaseName()

	start := time.Now()
	dbl, err := guard.NewDBLock(ctx, l, db, mode)
	if err != nil {
		return 0, err
	}
	defer dbl.Unlock()
	wait := time.Since(start)

	return wait, c.hold(ctx, db, dbl.Mode(), db)
}

// createCollectionOp starts as a collection writer and upgrades to database
// X, the way an insert into a missing collection does.
func (c *client) createCollectionOp(ctx context.Context, l *lock.Locker) (time.Duration, error) {
	db, ns := c.namespace()

	start := time.Now()
	dbl, err := guard.NewDBLock(ctx, l, db, lock.ModeIX)
	if err != nil {
		return 0, err
	}
	defer dbl.Unlock()

	coll, err := guard.NewCollectionLock(ctx, dbl, ns, lock.ModeIX)
	if err != nil {
		return 0, err
	}
	defer coll.Unlock()

	if err := dbl.RelockAsDatabaseExclusive(ctx, coll); err != nil {
		return 0, err
	}
	wait := time.Since(start)

	return wait, c.hold(ctx, db, lock.ModeX, ns)
}

func (c *client) collectionOp(ctx context.Context, l *lock.Locker, mode lock.Mode) (time.Duration, error) {
	db, ns := c.namespace()

	start := time.Now()
	dbl, err := guard.NewDBLock(ctx, l, db, mode)
	if err != nil {
		return 0, err
	}
	defer dbl.Unlock()

	coll, err := guard.NewCollectionLock(ctx, dbl, ns, mode)
	if err != nil {
		return 0, err
	}
	defer coll.Unlock()
	wait := time.Since(start)

	return wait, c.hold(ctx, ns, coll.Mode(), ns)
}

func (c *client) mutexOp(ctx context.Context, l *lock.Locker) (time.Duration, error) {
	mode := lock.ModeS
	if c.rng.IntN(4) == 0 {
		mode = lock.ModeX
	}

	start := time.Now()
	var (
		ml  *guard.MutexLock
		err error
	)
	if mode == lock.ModeX {
		ml, err = c.r.mutex.ExclusiveLock(ctx, l)
	} else {
		ml, err = c.r.mutex.SharedLock(ctx, l)
	}
	if err != nil {
		return 0, err
	}
	defer ml.Unlock()
	wait := time.Since(start)

	return wait, c.hold(ctx, MutexName, mode, "")
}

// tempReleaseOp reads a collection, yields every lock midway and resumes.
func (c *client) tempReleaseOp(ctx context.Context, l *lock.Locker) (time.Duration, error) {
	db, ns := c.namespace()

	start := time.Now()
	dbl, err := guard.NewDBLock(ctx, l, db, lock.ModeIS)
	if err != nil {
		return 0, err
	}
	defer dbl.Unlock()

	coll, err := guard.NewCollectionLock(ctx, dbl, ns, lock.ModeIS)
	if err != nil {
		return 0, err
	}
	defer coll.Unlock()
	wait := time.Since(start)

	if err := c.hold(ctx, ns, coll.Mode(), ns); err != nil {
		return wait, err
	}

	tr := guard.NewTempRelease(l)
	if tr.Released() {
		c.stats.yields++
	}
	tr.Restore(ctx)

	return wait, c.hold(ctx, ns, coll.Mode(), ns)
}

// hold runs the critical section: it registers the holder with the checker
// for S and X modes, touches the store and sleeps for HoldTime. key is the
// store key read (shared modes) or written (exclusive modes); empty skips
// the store.
func (c *client) hold(ctx context.Context, resource string, mode lock.Mode, key string) error {
	switch mode {
	case lock.ModeS:
		c.checker.enterShared(resource)
		defer c.checker.leaveShared(resource)
	case lock.ModeX:
		c.checker.enterExclusive(resource)
		defer c.checker.leaveExclusive(resource)
	}

	if c.ru != nil && key != "" {
		if err := c.touch(ctx, mode, key); err != nil {
			return err
		}
	}

	if d := c.r.cfg.HoldTime; d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (c *client) touch(ctx context.Context, mode lock.Mode, key string) error {
	if mode == lock.ModeX || mode == lock.ModeIX {
		return c.ru.Put(ctx, key, []byte(c.id))
	}
	if _, err := c.ru.Get(ctx, key); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
		return err
	}
	return nil
}

func (c *client) databaseName() string {
	return "db" + strconv.Itoa(c.rng.IntN(c.r.cfg.Databases))
}

func (c *client) namespace() (string, string) {
	db := c.databaseName()
	return db, db + ".c" + strconv.Itoa(c.rng.IntN(c.r.cfg.Collections))
}
