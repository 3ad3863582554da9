package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	libPostgres "github.com/LerianStudio/lib-eventbus/postgres"
)

func resolvePrimaryDB(ctx context.Context, client *libPostgres.PostgresConnection) (*sql.DB, error) {
	if client == nil {
		return nil, ErrConnectionRequired
	}

	value := reflect.ValueOf(client)
	if value.Kind() == reflect.Pointer && value.IsNil() {
		return nil, ErrConnectionRequired
	}

	resolved, err := client.GetDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if resolved == nil {
		return nil, ErrNoPrimaryDB
	}

	primaryDBs := resolved.PrimaryDBs()
	if len(primaryDBs) == 0 {
		return nil, ErrNoPrimaryDB
	}

	if primaryDBs[0] == nil {
		return nil, ErrNoPrimaryDB
	}

	return primaryDBs[0], nil
}
