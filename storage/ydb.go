package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/ydb-platform/ydb-go-sdk/v3"
	yc "github.com/ydb-platform/ydb-go-yc"
)

//go:embed schema/ydb/schema.sql
var ydbSchema string

type YDBOptions struct {
	DSN string
	// ServiceAccountKeyFile enables Yandex Cloud service account auth.
	ServiceAccountKeyFile string
	// MetadataCredentials uses the instance metadata service (serverless containers, VMs).
	MetadataCredentials bool
	TablePathPrefix     string
}

// NewYDBStore connects through the YDB database/sql driver and creates the
// tables if they are missing.
func NewYDBStore(ctx context.Context, opts YDBOptions) (*SQLStore, error) {
	if opts.DSN == "" {
		return nil, errors.New("ydb dsn is required")
	}

	var driverOpts []ydb.Option
	switch {
	case opts.ServiceAccountKeyFile != "":
		driverOpts = append(driverOpts,
			yc.WithInternalCA(),
			yc.WithServiceAccountKeyFileCredentials(opts.ServiceAccountKeyFile),
		)
	case opts.MetadataCredentials:
		driverOpts = append(driverOpts,
			yc.WithInternalCA(),
			yc.WithMetadataCredentials(),
		)
	}

	driver, err := ydb.Open(ctx, opts.DSN, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ydb driver: %w", err)
	}

	connectorOpts := []ydb.ConnectorOption{
		ydb.WithAutoDeclare(),
		ydb.WithPositionalArgs(),
	}
	if opts.TablePathPrefix != "" {
		connectorOpts = append(connectorOpts, ydb.WithTablePathPrefix(opts.TablePathPrefix))
	}

	connector, err := ydb.Connector(driver, connectorOpts...)
	if err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to create ydb connector: %w", err)
	}

	db := sql.OpenDB(connector)
	store := &SQLStore{
		db:          db,
		insert:      "UPSERT",
		nonceSource: "login VIEW idx_login_nonce",
		lostRace:    ydb.IsOperationErrorTransactionLocksInvalidated,
		closeFn: func() error {
			return errors.Join(db.Close(), driver.Close(context.Background()))
		},
	}

	if err := initYDBSchema(ctx, db); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func initYDBSchema(ctx context.Context, db *sql.DB) error {
	ctx = ydb.WithQueryMode(ctx, ydb.SchemeQueryMode)

	for _, stmt := range strings.Split(ydbSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil && !isAlreadyExistsError(err) {
			return err
		}
	}

	return nil
}
