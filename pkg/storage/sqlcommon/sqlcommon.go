// Package sqlcommon contains the connection configuration and the zone record
// SQL that the sqlite and postgres datastores share. Dialect differences are
// confined to the statement builder and error handler each backend passes in.
package sqlcommon

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"

	"github.com/credmesh/credmesh/internal/build"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/id"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/storage"
)

var tracer = otel.Tracer("credmesh/pkg/storage/sqlcommon")

// Config defines the configuration parameters for setting up and managing a
// sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// DatastoreOption defines a function type used for configuring a Config
// object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that overrides the username in the
// connection URI.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that overrides the password in the
// connection URI.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the maximum number of
// open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the maximum number of
// idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets the maximum
// duration a connection may be idle.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets the maximum
// lifetime of a connection.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetrics returns a DatastoreOption that enables connection pool metric
// export.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

type errorHandlerFn func(error, ...interface{}) error

// DBInfo encapsulates DB information for use in common methods.
type DBInfo struct {
	db             *sql.DB
	stbl           sq.StatementBuilderType
	HandleSQLError errorHandlerFn
}

// NewDBInfo constructs a [DBInfo] object.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, errorHandler errorHandlerFn, dialect string) *DBInfo {
	if err := goose.SetDialect(dialect); err != nil {
		panic("failed to set database dialect: " + err.Error())
	}

	return &DBInfo{
		db:             db,
		stbl:           stbl,
		HandleSQLError: errorHandler,
	}
}

// expiryMicros flattens a record expiry to its column representation, with
// zero meaning "never expires".
func expiryMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMicro()
}

func expiryTime(micros int64) time.Time {
	if micros == 0 {
		return time.Time{}
	}

	return time.UnixMicro(micros).UTC()
}

var recordColumns = []string{"record_type", "data", "expiry", "private"}

func scanRecords(rows *sql.Rows) ([]storage.Record, error) {
	var records []storage.Record
	for rows.Next() {
		var (
			record storage.Record
			expiry int64
		)
		if err := rows.Scan(&record.Type, &record.Data, &expiry, &record.Private); err != nil {
			return nil, err
		}
		record.Expiry = expiryTime(expiry)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// ReplaceRecords transactionally replaces the record set stored under
// (zone, label). An empty record set removes the label.
func ReplaceRecords(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, label string, records []storage.Record, now time.Time) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.ReplaceRecords")
	defer span.End()

	txn, err := dbInfo.db.BeginTx(ctx, nil)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	if _, err := dbInfo.stbl.
		Delete("zone_record").
		Where(sq.Eq{"zone": zone[:], "label": label}).
		RunWith(txn).
		ExecContext(ctx); err != nil {
		return dbInfo.HandleSQLError(err)
	}

	if len(records) > 0 {
		insert := dbInfo.stbl.
			Insert("zone_record").
			Columns("zone", "label", "ulid", "record_type", "data", "expiry", "private", "inserted_at")

		// Monotonic row ids keep ORDER BY ulid aligned with insertion order.
		for _, record := range records {
			rowID, err := id.NewStringFromTime(now)
			if err != nil {
				return err
			}
			insert = insert.Values(zone[:], label, rowID, record.Type, record.Data, expiryMicros(record.Expiry), record.Private, now.UnixMicro())
		}

		if _, err := insert.RunWith(txn).ExecContext(ctx); err != nil {
			return dbInfo.HandleSQLError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return dbInfo.HandleSQLError(err)
	}

	return nil
}

// ReadRecords returns the raw record set under (zone, label), including
// private and expired records.
func ReadRecords(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, label string) ([]storage.Record, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ReadRecords")
	defer span.End()

	rows, err := dbInfo.stbl.
		Select(recordColumns...).
		From("zone_record").
		Where(sq.Eq{"zone": zone[:], "label": label}).
		OrderBy("ulid").
		QueryContext(ctx)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}

	return records, nil
}

// DeleteRecords removes all records under (zone, label).
func DeleteRecords(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, label string) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.DeleteRecords")
	defer span.End()

	res, err := dbInfo.stbl.
		Delete("zone_record").
		Where(sq.Eq{"zone": zone[:], "label": label}).
		ExecContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// LookupRecords returns the public, unexpired records of the given type under
// (zone, label).
func LookupRecords(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, label string, rtype storage.RecordType, now time.Time) ([]storage.Record, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.LookupRecords")
	defer span.End()

	rows, err := dbInfo.stbl.
		Select(recordColumns...).
		From("zone_record").
		Where(sq.Eq{"zone": zone[:], "label": label, "record_type": rtype, "private": false}).
		Where(sq.Or{sq.Eq{"expiry": 0}, sq.GtOrEq{"expiry": now.UnixMicro()}}).
		OrderBy("ulid").
		QueryContext(ctx)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}

	return records, nil
}

// ListZone pages through a zone's labels in lexical order.
func ListZone(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, opts storage.PaginationOptions) ([]storage.LabelRecords, string, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListZone")
	defer span.End()

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}

	// Fetch one extra label to learn whether another page exists.
	labelQuery := dbInfo.stbl.
		Select("DISTINCT label").
		From("zone_record").
		Where(sq.Eq{"zone": zone[:]}).
		OrderBy("label").
		Limit(uint64(pageSize + 1))
	if opts.From != "" {
		labelQuery = labelQuery.Where(sq.GtOrEq{"label": opts.From})
	}

	rows, err := labelQuery.QueryContext(ctx)
	if err != nil {
		return nil, "", dbInfo.HandleSQLError(err)
	}

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			rows.Close()
			return nil, "", dbInfo.HandleSQLError(err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, "", dbInfo.HandleSQLError(err)
	}
	rows.Close()

	var continuationToken string
	if len(labels) > pageSize {
		continuationToken = labels[pageSize]
		labels = labels[:pageSize]
	}

	out := make([]storage.LabelRecords, 0, len(labels))
	for _, label := range labels {
		records, err := ReadRecords(ctx, dbInfo, zone, label)
		if err != nil {
			return nil, "", err
		}
		out = append(out, storage.LabelRecords{Label: label, Records: records})
	}

	return out, continuationToken, nil
}

// ListPrivateDelegates returns the unexpired private delegate records stored
// anywhere in the zone.
func ListPrivateDelegates(ctx context.Context, dbInfo *DBInfo, zone crypto.PublicKey, now time.Time) ([]storage.Record, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListPrivateDelegates")
	defer span.End()

	rows, err := dbInfo.stbl.
		Select(recordColumns...).
		From("zone_record").
		Where(sq.Eq{"zone": zone[:], "record_type": storage.RecordTypeDelegate, "private": true}).
		Where(sq.Or{sq.Eq{"expiry": 0}, sq.GtOrEq{"expiry": now.UnixMicro()}}).
		OrderBy("label", "ulid").
		QueryContext(ctx)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, dbInfo.HandleSQLError(err)
	}

	return records, nil
}

// IsReady returns true if the connection to the datastore is successful AND
// the datastore has the required schema revision applied (or the check is
// skipped because it already passed once).
func IsReady(ctx context.Context, skipVersionCheck bool, db *sql.DB) (storage.ReadinessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Ping first so connectivity problems surface with a clearer error than
	// a failed version query.
	if pingErr := db.PingContext(ctx); pingErr != nil {
		return storage.ReadinessStatus{}, pingErr
	}

	if skipVersionCheck {
		return storage.ReadinessStatus{
			IsReady: true,
		}, nil
	}

	revision, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return storage.ReadinessStatus{}, err
	}

	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return storage.ReadinessStatus{
			Message: "datastore requires migrations: at revision '" +
				strconv.FormatInt(revision, 10) +
				"', but requires '" +
				strconv.FormatInt(build.MinimumSupportedDatastoreSchemaRevision, 10) +
				"'. Run 'credmesh migrate'.",
			IsReady: false,
		}, nil
	}

	return storage.ReadinessStatus{
		IsReady: true,
	}, nil
}
