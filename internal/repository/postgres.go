// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
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
	"github.com/sethvargo/go-retry"

	"github.com/avolkhin/dues-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDueNotFound возвращается, если квитанция не найдена.
var (
	ErrDueNotFound = errors.New("due not found")
	// ErrDueAlreadyPaid возвращается при попытке изменить уже оплаченную квитанцию.
	ErrDueAlreadyPaid = errors.New("due already paid")
	// ErrNoConfiguration возвращается, если нет ни одной версии конфигурации взносов.
	ErrNoConfiguration = errors.New("dues configuration is empty")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
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

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
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

// withRetry повторяет операцию при временных ошибках БД:
// сериализация, дедлоки и сетевые обрывы.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// GetActiveConcepts возвращает статьи начисления последней версии конфигурации.
func (r *PostgresRepository) GetActiveConcepts(ctx context.Context) ([]model.Concept, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT concepts FROM dues_config ORDER BY version DESC LIMIT 1`,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoConfiguration
		}
		return nil, fmt.Errorf("get concepts: %w", err)
	}

	var concepts []model.Concept
	if err := json.Unmarshal(raw, &concepts); err != nil {
		return nil, fmt.Errorf("decode concepts: %w", err)
	}

	return concepts, nil
}

// SaveConcepts добавляет новую версию конфигурации взносов.
// Таблица конфигурации только дописывается, прежние версии не изменяются.
func (r *PostgresRepository) SaveConcepts(ctx context.Context, concepts []model.Concept) (int64, error) {
	raw, err := json.Marshal(concepts)
	if err != nil {
		return 0, fmt.Errorf("encode concepts: %w", err)
	}

	var version int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO dues_config (concepts) VALUES ($1) RETURNING version`,
		raw,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save concepts: %w", err)
	}

	return version, nil
}

const dueColumns = `id, resident_id, resident_name, resident_email,
	period_year, period_month, base_cents, penalty_cents, delinquent_days,
	state, due_date, grace_date, concepts, paid_at,
	COALESCE(payment_method, ''), COALESCE(payment_reference, ''), COALESCE(gateway_session_id, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDue(row rowScanner) (*model.Due, error) {
	var (
		d           model.Due
		month       int
		conceptsRaw []byte
	)

	err := row.Scan(
		&d.ID, &d.ResidentID, &d.ResidentName, &d.ResidentEmail,
		&d.Period.Year, &month, &d.BaseCents, &d.PenaltyCents, &d.DelinquentDays,
		&d.State, &d.DueDate, &d.GraceDate, &conceptsRaw, &d.PaidAt,
		&d.PaymentMethod, &d.PaymentReference, &d.GatewaySessionID,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Period.Month = time.Month(month)

	if len(conceptsRaw) > 0 {
		if err := json.Unmarshal(conceptsRaw, &d.Concepts); err != nil {
			return nil, fmt.Errorf("decode concepts snapshot: %w", err)
		}
	}

	return &d, nil
}

// CreateDue атомарно создаёт квитанцию либо возвращает уже существующую
// для той же пары (житель, период). Уникальность обеспечивает ограничение БД,
// поэтому гонка двух одновременных генераций не создаст дубликат.
func (r *PostgresRepository) CreateDue(ctx context.Context, d *model.Due) (*model.Due, bool, error) {
	conceptsRaw, err := json.Marshal(d.Concepts)
	if err != nil {
		return nil, false, fmt.Errorf("encode concepts snapshot: %w", err)
	}

	var (
		stored   *model.Due
		inserted bool
	)

	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO dues (id, resident_id, resident_name, resident_email,
				period_year, period_month, base_cents, state, due_date, grace_date, concepts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (resident_id, period_year, period_month) DO NOTHING`,
			d.ID, d.ResidentID, d.ResidentName, d.ResidentEmail,
			d.Period.Year, int(d.Period.Month), d.BaseCents, string(model.DueStatePending),
			d.DueDate, d.GraceDate, conceptsRaw,
		)
		if err != nil {
			return fmt.Errorf("insert due: %w", err)
		}

		inserted = cmdTag.RowsAffected() == 1

		row := tx.QueryRow(ctx,
			`SELECT `+dueColumns+`
			 FROM dues
			 WHERE resident_id = $1 AND period_year = $2 AND period_month = $3`,
			d.ResidentID, d.Period.Year, int(d.Period.Month),
		)

		stored, err = scanDue(row)
		if err != nil {
			return fmt.Errorf("select due: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return stored, inserted, nil
}

// GetDueByID возвращает квитанцию по идентификатору.
func (r *PostgresRepository) GetDueByID(ctx context.Context, id string) (*model.Due, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+dueColumns+` FROM dues WHERE id = $1`,
		id,
	)

	d, err := scanDue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDueNotFound
		}
		return nil, fmt.Errorf("get due: %w", err)
	}

	return d, nil
}

// GetDueByResidentPeriod возвращает квитанцию жителя за период.
func (r *PostgresRepository) GetDueByResidentPeriod(ctx context.Context, residentID string, period model.Period) (*model.Due, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+dueColumns+`
		 FROM dues
		 WHERE resident_id = $1 AND period_year = $2 AND period_month = $3`,
		residentID, period.Year, int(period.Month),
	)

	d, err := scanDue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDueNotFound
		}
		return nil, fmt.Errorf("get due: %w", err)
	}

	return d, nil
}

func (r *PostgresRepository) listDues(ctx context.Context, query string, args ...any) ([]model.Due, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select dues: %w", err)
	}
	defer rows.Close()

	var res []model.Due
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due: %w", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListDuesByResident возвращает все квитанции жителя, новые периоды первыми.
func (r *PostgresRepository) ListDuesByResident(ctx context.Context, residentID string) ([]model.Due, error) {
	return r.listDues(ctx,
		`SELECT `+dueColumns+`
		 FROM dues
		 WHERE resident_id = $1
		 ORDER BY period_year DESC, period_month DESC`,
		residentID,
	)
}

// ListDuesByPeriod возвращает все квитанции за указанный период.
func (r *PostgresRepository) ListDuesByPeriod(ctx context.Context, period model.Period) ([]model.Due, error) {
	return r.listDues(ctx,
		`SELECT `+dueColumns+`
		 FROM dues
		 WHERE period_year = $1 AND period_month = $2
		 ORDER BY resident_name`,
		period.Year, int(period.Month),
	)
}

// SetGatewaySession сохраняет идентификатор платёжной сессии на неоплаченной
// квитанции и обновляет её расчётные поля на момент создания сессии.
func (r *PostgresRepository) SetGatewaySession(ctx context.Context, dueID, sessionID string, state model.DueState, penaltyCents int64, delinquentDays int) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE dues
		 SET gateway_session_id = $2, state = $3, penalty_cents = $4, delinquent_days = $5, updated_at = now()
		 WHERE id = $1 AND state <> $6`,
		dueID, sessionID, string(state), penaltyCents, delinquentDays, string(model.DueStatePaid),
	)
	if err != nil {
		return fmt.Errorf("set gateway session: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	return r.classifyMissedUpdate(ctx, dueID)
}

// MarkDuePaid переводит квитанцию в PAID. Переход защищён условием
// state <> 'PAID', поэтому повторный вызов не перезапишет факт оплаты.
func (r *PostgresRepository) MarkDuePaid(ctx context.Context, dueID, method, reference, sessionID string, paidAt time.Time) error {
	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE dues
			 SET state = $2, paid_at = $3, payment_method = $4, payment_reference = $5,
			     gateway_session_id = $6, updated_at = now()
			 WHERE id = $1 AND state <> $2`,
			dueID, string(model.DueStatePaid), paidAt, method, reference, sessionID,
		)
		if err != nil {
			return fmt.Errorf("mark due paid: %w", err)
		}

		if cmdTag.RowsAffected() == 1 {
			return nil
		}

		return r.classifyMissedUpdate(ctx, dueID)
	})
}

// classifyMissedUpdate различает отсутствующую и уже оплаченную квитанцию,
// когда условный UPDATE не затронул ни одной строки.
func (r *PostgresRepository) classifyMissedUpdate(ctx context.Context, dueID string) error {
	var state string
	err := r.pool.QueryRow(ctx, `SELECT state FROM dues WHERE id = $1`, dueID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDueNotFound
		}
		return fmt.Errorf("select due state: %w", err)
	}

	if state == string(model.DueStatePaid) {
		return ErrDueAlreadyPaid
	}

	return fmt.Errorf("due %s not updated in state %s", dueID, state)
}

// ListDuesForSweep возвращает неоплаченные квитанции для периодического
// пересчёта просрочки.
func (r *PostgresRepository) ListDuesForSweep(ctx context.Context, limit int) ([]model.Due, error) {
	return r.listDues(ctx,
		`SELECT `+dueColumns+`
		 FROM dues
		 WHERE state <> $1
		 ORDER BY due_date
		 LIMIT $2`,
		string(model.DueStatePaid), limit,
	)
}

// UpdateDueDelinquency обновляет персистентные расчётные поля квитанции.
// Оплаченные квитанции условие не затрагивает.
func (r *PostgresRepository) UpdateDueDelinquency(ctx context.Context, dueID string, state model.DueState, penaltyCents int64, delinquentDays int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE dues
		 SET state = $2, penalty_cents = $3, delinquent_days = $4, updated_at = now()
		 WHERE id = $1 AND state <> $5`,
		dueID, string(state), penaltyCents, delinquentDays, string(model.DueStatePaid),
	)
	if err != nil {
		return fmt.Errorf("update delinquency: %w", err)
	}

	return nil
}
