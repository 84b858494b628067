package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/EdLlewellin/PyroTracker/internal/monitoring"
	"github.com/EdLlewellin/PyroTracker/internal/timeutil"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsEmbed embed.FS

// DB is the project database: tracks, points, the project scale and the
// persisted calibration analysis. It implements the calibration
// collaborator interfaces.
type DB struct {
	*sql.DB

	clock timeutil.Clock

	subMu   sync.Mutex
	subs    map[int]func(calibration.Mutation)
	nextSub int
}

var (
	dbLogf      = monitoring.Component("ProjectDB")
	migrateLogf = monitoring.Component("migrate")
)

var essentialPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens the database at path and applies connection PRAGMAs without
// touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// foreign_keys is per connection.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range essentialPragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &DB{
		DB:    sqlDB,
		clock: timeutil.RealClock{},
		subs:  make(map[int]func(calibration.Mutation)),
	}, nil
}

// NewDB opens the database at path, applies all pending migrations and
// makes sure the project row exists.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrationsFS, err := MigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.EnsureProject(""); err != nil {
		db.Close()
		return nil, err
	}
	dbLogf("opened %s", path)
	return db, nil
}

// SetClock replaces the clock used to timestamp fit runs and scale
// updates.
func (db *DB) SetClock(c timeutil.Clock) {
	db.clock = c
}

// Clock returns the clock the database stamps records with.
func (db *DB) Clock() timeutil.Clock {
	return db.clock
}

// MigrationsFS returns the embedded migration files rooted at the
// migrations directory.
func MigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsEmbed, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}

// Subscribe registers fn to receive point mutations after they commit.
// Callbacks run synchronously on the mutating goroutine.
func (db *DB) Subscribe(fn func(calibration.Mutation)) (unsubscribe func()) {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	if db.subs == nil {
		db.subs = make(map[int]func(calibration.Mutation))
	}
	id := db.nextSub
	db.nextSub++
	db.subs[id] = fn
	return func() {
		db.subMu.Lock()
		delete(db.subs, id)
		db.subMu.Unlock()
	}
}

func (db *DB) notify(muts ...calibration.Mutation) {
	db.subMu.Lock()
	subs := make([]func(calibration.Mutation), 0, len(db.subs))
	for _, fn := range db.subs {
		subs = append(subs, fn)
	}
	db.subMu.Unlock()

	for _, m := range muts {
		for _, fn := range subs {
			fn(m)
		}
	}
}
