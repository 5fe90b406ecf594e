// Package repository содержит журнал попыток оформления заказа в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	statePending   = "pending"
	stateResolved  = "resolved"
	stateDiscarded = "discarded"
)

// PostgresJournal хранит ключи идемпотентности оформления заказов в PostgreSQL,
// чтобы повтор после перезапуска клиента отправил тот же ключ.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresJournal подключается к БД и применяет миграции.
func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &PostgresJournal{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := j.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return j, nil
}

func (j *PostgresJournal) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(j.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

// Reserve возвращает ключ ожидающей попытки с тем же отпечатком или записывает newKey,
// отменяя ожидающие попытки той же области с другим отпечатком.
// Одновременная запись того же отпечатка упирается в уникальный индекс, и тогда читается победивший ключ.
func (j *PostgresJournal) Reserve(ctx context.Context, scope, fingerprint, newKey string) (string, bool, error) {
	var (
		key    string
		reused bool
	)
	err := withRetry(ctx, j.delays, func() error {
		var err error
		key, reused, err = j.reserve(ctx, scope, fingerprint, newKey)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return key, reused, nil
}

func (j *PostgresJournal) reserve(ctx context.Context, scope, fingerprint, newKey string) (string, bool, error) {
	key, err := j.pendingKey(ctx, fingerprint)
	if err == nil {
		return key, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	err = pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE placement_attempts SET state = $3, updated_at = now()
			 WHERE scope = $1 AND fingerprint <> $2 AND state = $4`,
			scope, fingerprint, stateDiscarded, statePending,
		); err != nil {
			return fmt.Errorf("discard superseded attempts: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO placement_attempts (idempotency_key, fingerprint, scope, state) VALUES ($1, $2, $3, $4)`,
			newKey, fingerprint, scope, statePending,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			key, err := j.pendingKey(ctx, fingerprint)
			if err != nil {
				return "", false, err
			}
			return key, true, nil
		}
		return "", false, fmt.Errorf("reserve attempt: %w", err)
	}
	return newKey, false, nil
}

func (j *PostgresJournal) pendingKey(ctx context.Context, fingerprint string) (string, error) {
	var key string
	err := j.pool.QueryRow(ctx,
		`SELECT idempotency_key FROM placement_attempts WHERE fingerprint = $1 AND state = $2`,
		fingerprint, statePending,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("select pending attempt: %w", err)
	}
	return key, nil
}

// Resolve отмечает попытку успешной и запоминает номер заказа.
func (j *PostgresJournal) Resolve(ctx context.Context, fingerprint, orderID string) error {
	return withRetry(ctx, j.delays, func() error {
		_, err := j.pool.Exec(ctx,
			`UPDATE placement_attempts SET state = $3, order_id = $2, updated_at = now()
			 WHERE fingerprint = $1 AND state = $4`,
			fingerprint, orderID, stateResolved, statePending,
		)
		if err != nil {
			return fmt.Errorf("resolve attempt: %w", err)
		}
		return nil
	})
}

// Discard отменяет ожидающую попытку.
func (j *PostgresJournal) Discard(ctx context.Context, fingerprint string) error {
	return withRetry(ctx, j.delays, func() error {
		_, err := j.pool.Exec(ctx,
			`UPDATE placement_attempts SET state = $2, updated_at = now()
			 WHERE fingerprint = $1 AND state = $3`,
			fingerprint, stateDiscarded, statePending,
		)
		if err != nil {
			return fmt.Errorf("discard attempt: %w", err)
		}
		return nil
	})
}

// withRetry повторяет fn при временных ошибках БД с паузами из delays.
func withRetry(ctx context.Context, delays []time.Duration, fn func() error) error {
	var err error
	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(delays) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
