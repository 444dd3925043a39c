package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/telemetry"
)

type PoolOptions struct {
	Path string
	Size int
	// AcquireTimeout > 0 makes Acquire fail with ErrPoolExhausted instead of
	// waiting on the caller's context alone.
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
	Instruments    *telemetry.Instruments
}

func PoolOptionsFromConfig(cfg focuslog.Config) PoolOptions {
	return PoolOptions{
		Path:           cfg.StoragePath,
		Size:           cfg.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout,
		BusyTimeout:    cfg.BusyTimeout,
	}
}

// Pool hands out at most Size connections to a single SQLite file. Every
// statement the package runs goes through a checked out slot.
type Pool struct {
	db    *sql.DB
	slots chan struct{}
	opts  PoolOptions
	l     *log.Logger
	m     *telemetry.Instruments

	closeOnce sync.Once
	closed    chan struct{}
}

// Conn is a connection checked out of a Pool. Give it back with Release.
type Conn struct {
	*sql.Conn
	pool     *Pool
	broken   bool
	released bool
}

type PoolStats struct {
	Size   int
	InUse  int
	Open   int
	Idle   int
	Waited int64
}

func OpenPool(ctx context.Context, opts PoolOptions, l *log.Logger) (*Pool, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("provide storage path")
	}
	if opts.Size < 1 {
		opts.Size = focuslog.DefaultPoolSize
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = focuslog.DefaultBusyTimeout
	}
	if opts.Instruments == nil {
		opts.Instruments = telemetry.Default()
	}
	if l == nil {
		l = log.Default()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, &focuslog.StorageError{Op: "create storage dir", Err: err}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_txlock=immediate",
		opts.Path, opts.BusyTimeout.Milliseconds(),
	)
	l.Info("opening db", "path", opts.Path, "size", opts.Size)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &focuslog.StorageError{Op: "open database", Err: err}
	}
	db.SetMaxOpenConns(opts.Size)
	db.SetMaxIdleConns(opts.Size)
	db.SetConnMaxLifetime(0)

	p := &Pool{
		db:     db,
		slots:  make(chan struct{}, opts.Size),
		opts:   opts,
		l:      l,
		m:      opts.Instruments,
		closed: make(chan struct{}),
	}
	for range opts.Size {
		p.slots <- struct{}{}
	}

	if err := p.warm(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// warm opens every connection up front so pragmas are applied before use.
func (p *Pool) warm(ctx context.Context) error {
	conns := make([]*Conn, 0, p.opts.Size)
	defer func() {
		for _, c := range conns {
			p.Release(c)
		}
	}()
	for range p.opts.Size {
		c, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.PingContext(ctx); err != nil {
			c.broken = true
			return &focuslog.StorageError{Op: "warm connection", Err: err}
		}
	}
	return nil
}

// Acquire checks out a connection, waiting for one to be released if all
// Size are in use.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	release, err := p.holdSlot(ctx)
	if err != nil {
		return nil, err
	}

	sc, err := p.db.Conn(ctx)
	if err != nil {
		release()
		return nil, &focuslog.StorageError{Op: "acquire connection", Err: err}
	}
	p.m.ObserveAcquire(ctx, time.Since(start))
	return &Conn{Conn: sc, pool: p}, nil
}

// Release returns c to the pool. Broken connections are closed for good and
// replaced lazily. Releasing twice is a no-op.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.released {
		return
	}
	c.released = true

	if c.broken {
		// returning ErrBadConn from Raw makes database/sql drop the driver conn
		_ = c.Raw(func(any) error { return driver.ErrBadConn })
		p.l.Warn("discarded broken connection")
	}
	if err := c.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.l.Warn("failed to return connection", "err", err)
	}
	p.slots <- struct{}{}
}

// holdSlot takes one slot without opening a connection. Transactions use it
// so the transactor's own connection still counts against Size.
func (p *Pool) holdSlot(ctx context.Context) (func(), error) {
	select {
	case <-p.closed:
		return nil, focuslog.ErrPoolClosed
	default:
	}

	waitCtx := ctx
	if p.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	select {
	case <-p.slots:
	case <-p.closed:
		return nil, focuslog.ErrPoolClosed
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
		}
		p.m.PoolExhausted.Add(ctx, 1)
		p.l.Warn("pool exhausted", "size", p.opts.Size, "timeout", p.opts.AcquireTimeout)
		return nil, focuslog.ErrPoolExhausted
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.slots <- struct{}{} })
	}, nil
}

func (p *Pool) Stats() PoolStats {
	s := p.db.Stats()
	return PoolStats{
		Size:   p.opts.Size,
		InUse:  p.opts.Size - len(p.slots),
		Open:   s.OpenConnections,
		Idle:   s.Idle,
		Waited: s.WaitCount,
	}
}

// Close checkpoints the WAL and closes every connection. Connections still
// checked out are closed when released.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if _, cerr := p.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); cerr != nil {
			p.l.Warn("wal checkpoint failed", "err", cerr)
		}
		err = p.db.Close()
		p.l.Info("closed db", "path", p.opts.Path)
	})
	return err
}

// observe marks c broken when err means the connection itself can no longer
// be trusted.
func (c *Conn) observe(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, driver.ErrBadConn) {
		c.broken = true
		return
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			c.broken = true
		}
	}
}

// MarkBroken forces c to be discarded on Release.
func (c *Conn) MarkBroken() {
	c.broken = true
}

func (c *Conn) Release() {
	c.pool.Release(c)
}
