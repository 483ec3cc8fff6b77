// Package postgres provides a PostgreSQL backed zone record datastore.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/credmesh/credmesh/internal/build"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("credmesh/pkg/storage/postgres")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+name)
}

// Datastore provides a PostgreSQL based implementation of [storage.ZoneDatastore].
type Datastore struct {
	writeStbl             sq.StatementBuilderType
	readStbl              sq.StatementBuilderType
	writeDb               *sql.DB
	readDb                *sql.DB
	writeDbInfo           *sqlcommon.DBInfo
	readDbInfo            *sqlcommon.DBInfo
	logger                logger.Logger
	writeDbStatsCollector prometheus.Collector
	readDbStatsCollector  prometheus.Collector
	versionReady          bool
}

type Option func(*Datastore)

// WithReadDB routes lookups and zone listings to a separate connection,
// typically a read replica. Writes stay on the primary.
func WithReadDB(uri string, cfg *sqlcommon.Config) Option {
	return func(d *Datastore) {
		db, err := initDB(uri, cfg.Username, cfg.Password, cfg)
		if err != nil {
			d.logger.Error("failed to initialize read db", zap.Error(err))
			return
		}
		d.readDb = db
	}
}

// Ensures that Datastore implements the ZoneDatastore interface.
var _ storage.ZoneDatastore = (*Datastore)(nil)

// initDB initializes a new postgres database connection.
func initDB(uri string, username string, password string, cfg *sqlcommon.Config) (*sql.DB, error) {
	if username != "" || password != "" {
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse postgres connection uri: %w", err)
		}

		if username == "" && parsed.User != nil {
			username = parsed.User.Username()
		}

		switch {
		case password != "":
			parsed.User = url.UserPassword(username, password)
		case parsed.User != nil:
			if existing, ok := parsed.User.Password(); ok {
				parsed.User = url.UserPassword(username, existing)
			} else {
				parsed.User = url.User(username)
			}
		default:
			parsed.User = url.User(username)
		}

		uri = parsed.String()
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns) // default is 2, not retaining connections(0) would be detrimental for performance
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config, opts ...Option) (*Datastore, error) {
	writeDb, err := initDB(uri, cfg.Username, cfg.Password, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	return NewWithDB(writeDb, cfg, opts...)
}

// configureDB configures a postgres database connection.
func configureDB(db *sql.DB, cfg *sqlcommon.Config) (prometheus.Collector, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return collector, nil
}

// NewWithDB creates a new [Datastore] storage with the provided database connection.
func NewWithDB(writeDb *sql.DB, cfg *sqlcommon.Config, opts ...Option) (*Datastore, error) {
	datastore := &Datastore{
		writeDb: writeDb,
		logger:  cfg.Logger,
	}

	for _, opt := range opts {
		opt(datastore)
	}

	collector, err := configureDB(writeDb, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure db: %w", err)
	}
	writeStbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(writeDb)
	datastore.writeDbInfo = sqlcommon.NewDBInfo(writeDb, writeStbl, HandleSQLError, "postgres")
	datastore.writeStbl = writeStbl
	datastore.writeDbStatsCollector = collector

	// If a readDB is provided, configure it. Otherwise, use the writeDB as the readDB.
	switch {
	case datastore.readDb != nil:
		readCollector, err := configureDB(datastore.readDb, cfg)
		if err != nil {
			return nil, fmt.Errorf("configure db: %w", err)
		}
		readStbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(datastore.readDb)
		datastore.readDbInfo = sqlcommon.NewDBInfo(datastore.readDb, readStbl, HandleSQLError, "postgres")
		datastore.readStbl = readStbl
		datastore.readDbStatsCollector = readCollector
	default:
		datastore.readDb = writeDb
		datastore.readDbInfo = datastore.writeDbInfo
		datastore.readStbl = writeStbl
		datastore.readDbStatsCollector = collector
	}

	return datastore, nil
}

// Close see [storage.ZoneDatastore].Close.
func (s *Datastore) Close() {
	if s.writeDbStatsCollector != nil {
		prometheus.Unregister(s.writeDbStatsCollector)
	}
	if s.readDbStatsCollector != nil && s.readDbStatsCollector != s.writeDbStatsCollector {
		prometheus.Unregister(s.readDbStatsCollector)
	}
	s.writeDb.Close()
	if s.readDb != s.writeDb {
		s.readDb.Close()
	}
}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (s *Datastore) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "LookupRecords")
	defer span.End()

	return sqlcommon.LookupRecords(ctx, s.readDbInfo, zone, label, rtype, time.Now().UTC())
}

// PutRecords see [storage.ZoneDatastore].PutRecords.
func (s *Datastore) PutRecords(ctx context.Context, zone crypto.PublicKey, label string, records []storage.Record) error {
	ctx, span := startTrace(ctx, "PutRecords")
	defer span.End()

	return sqlcommon.ReplaceRecords(ctx, s.writeDbInfo, zone, label, records, time.Now().UTC())
}

// GetRecords see [storage.ZoneDatastore].GetRecords.
func (s *Datastore) GetRecords(ctx context.Context, zone crypto.PublicKey, label string) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "GetRecords")
	defer span.End()

	return sqlcommon.ReadRecords(ctx, s.readDbInfo, zone, label)
}

// DeleteRecords see [storage.ZoneDatastore].DeleteRecords.
func (s *Datastore) DeleteRecords(ctx context.Context, zone crypto.PublicKey, label string) error {
	ctx, span := startTrace(ctx, "DeleteRecords")
	defer span.End()

	return sqlcommon.DeleteRecords(ctx, s.writeDbInfo, zone, label)
}

// ListZone see [storage.ZoneDatastore].ListZone.
func (s *Datastore) ListZone(ctx context.Context, zone crypto.PublicKey, opts storage.PaginationOptions) ([]storage.LabelRecords, string, error) {
	ctx, span := startTrace(ctx, "ListZone")
	defer span.End()

	return sqlcommon.ListZone(ctx, s.readDbInfo, zone, opts)
}

// ListPrivateDelegates see [storage.ZoneDatastore].ListPrivateDelegates.
func (s *Datastore) ListPrivateDelegates(ctx context.Context, zone crypto.PublicKey) ([]storage.Record, error) {
	ctx, span := startTrace(ctx, "ListPrivateDelegates")
	defer span.End()

	return sqlcommon.ListPrivateDelegates(ctx, s.readDbInfo, zone, time.Now().UTC())
}

// IsReady see [storage.ZoneDatastore].IsReady.
func (s *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	versionReady, err := sqlcommon.IsReady(ctx, s.versionReady, s.writeDb)
	if err != nil {
		return versionReady, err
	}
	s.versionReady = versionReady.IsReady

	if s.readDb != s.writeDb {
		if pingErr := s.readDb.PingContext(ctx); pingErr != nil {
			return storage.ReadinessStatus{Message: "read db unreachable: " + pingErr.Error()}, pingErr
		}
	}

	return versionReady, nil
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error, _ ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	if strings.Contains(err.Error(), "duplicate key value") {
		return storage.ErrCollision
	}

	return fmt.Errorf("sql error: %w", err)
}
