// Package sqlite provides a SQLite backed zone record datastore.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/credmesh/credmesh/internal/build"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("credmesh/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Datastore provides a SQLite based implementation of [storage.ZoneDatastore].
type Datastore struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	versionReady     bool
}

// Ensures that SQLite implements the ZoneDatastore interface.
var _ storage.ZoneDatastore = (*Datastore)(nil)

// PrepareDSN prepares a raw DSN from config for use with SQLite, specifying
// defaults for journal mode and busy timeout.
func PrepareDSN(uri string) (string, error) {
	// Set journal mode and busy timeout pragmas if not specified.
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	// Set transaction mode to immediate if not specified
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB creates a new [Datastore] storage with the provided database
// connection.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	stbl := sq.StatementBuilder.RunWith(db)
	dbInfo := sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "sqlite")

	return &Datastore{
		stbl:             stbl,
		db:               db,
		dbInfo:           dbInfo,
		logger:           cfg.Logger,
		dbStatsCollector: collector,
		versionReady:     false,
	}, nil
}

// Close see [storage.ZoneDatastore].Close.
func (s *Datastore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	s.db.Close()
}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (s *Datastore) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "LookupRecords")
	defer span.End()

	return sqlcommon.LookupRecords(ctx, s.dbInfo, zone, label, rtype, time.Now().UTC())
}

// PutRecords see [storage.ZoneDatastore].PutRecords.
func (s *Datastore) PutRecords(ctx context.Context, zone crypto.PublicKey, label string, records []storage.Record) error {
	ctx, span := startTrace(ctx, "PutRecords")
	defer span.End()

	return busyRetry(func() error {
		return sqlcommon.ReplaceRecords(ctx, s.dbInfo, zone, label, records, time.Now().UTC())
	})
}

// GetRecords see [storage.ZoneDatastore].GetRecords.
func (s *Datastore) GetRecords(ctx context.Context, zone crypto.PublicKey, label string) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "GetRecords")
	defer span.End()

	return sqlcommon.ReadRecords(ctx, s.dbInfo, zone, label)
}

// DeleteRecords see [storage.ZoneDatastore].DeleteRecords.
func (s *Datastore) DeleteRecords(ctx context.Context, zone crypto.PublicKey, label string) error {
	ctx, span := startTrace(ctx, "DeleteRecords")
	defer span.End()

	return busyRetry(func() error {
		return sqlcommon.DeleteRecords(ctx, s.dbInfo, zone, label)
	})
}

// ListZone see [storage.ZoneDatastore].ListZone.
func (s *Datastore) ListZone(ctx context.Context, zone crypto.PublicKey, opts storage.PaginationOptions) ([]storage.LabelRecords, string, error) {
	ctx, span := startTrace(ctx, "ListZone")
	defer span.End()

	return sqlcommon.ListZone(ctx, s.dbInfo, zone, opts)
}

// ListPrivateDelegates see [storage.ZoneDatastore].ListPrivateDelegates.
func (s *Datastore) ListPrivateDelegates(ctx context.Context, zone crypto.PublicKey) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "ListPrivateDelegates")
	defer span.End()

	return sqlcommon.ListPrivateDelegates(ctx, s.dbInfo, zone, time.Now().UTC())
}

// IsReady see [storage.ZoneDatastore].IsReady.
func (s *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	versionReady, err := sqlcommon.IsReady(ctx, s.versionReady, s.db)
	if err != nil {
		return versionReady, err
	}
	s.versionReady = versionReady.IsReady
	return versionReady, nil
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error, _ ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code()&0xFF == sqlite3.SQLITE_CONSTRAINT {
			return storage.ErrCollision
		}
	}

	return fmt.Errorf("sql error: %w", err)
}

// SQLite will return an SQLITE_BUSY error when the database is locked rather
// than waiting for the lock. This function retries the operation up to
// maxRetries times before returning the error.
func busyRetry(fn func() error) error {
	const maxRetries = 10
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isBusyError(err) {
			if retries < maxRetries {
				continue
			}

			return fmt.Errorf("sqlite busy error after %d retries: %w", maxRetries, err)
		}

		return err
	}
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}
