// Package migrate wraps goose for the guard's schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultDir = "migrations"

func init() {
	goose.SetLogger(log.New(os.Stdout, "[goose] ", log.LstdFlags))
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

func Up(ctx context.Context, dsn string) error {
	return withDB(ctx, dsn, func(ctx context.Context, db *sql.DB) error {
		return goose.UpContext(ctx, db, defaultDir)
	})
}

func Down(ctx context.Context, dsn string, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return withDB(ctx, dsn, func(ctx context.Context, db *sql.DB) error {
		for i := 0; i < steps; i++ {
			if err := goose.DownContext(ctx, db, defaultDir); err != nil {
				return err
			}
		}
		return nil
	})
}

func Status(ctx context.Context, dsn string) error {
	return withDB(ctx, dsn, func(ctx context.Context, db *sql.DB) error {
		return goose.StatusContext(ctx, db, defaultDir)
	})
}

func Version(ctx context.Context, dsn string) (int64, error) {
	var version int64
	err := withDB(ctx, dsn, func(ctx context.Context, db *sql.DB) error {
		v, err := goose.GetDBVersion(db)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	return version, err
}

func withDB(ctx context.Context, dsn string, fn func(context.Context, *sql.DB) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	return fn(ctx, db)
}

func ContextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}
