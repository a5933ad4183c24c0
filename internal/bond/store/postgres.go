package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"credence/internal/bond/models"
	"credence/pkg/amount"
	"credence/pkg/platform/sentinel"
)

// Schema for the Postgres-backed stores. Amounts are NUMERIC so 128-bit-range
// values survive round trips without precision loss.
const Schema = `
CREATE TABLE IF NOT EXISTS bonds (
	identity                TEXT PRIMARY KEY,
	bonded_amount           NUMERIC NOT NULL,
	slashed_amount          NUMERIC NOT NULL,
	bond_start              BIGINT  NOT NULL,
	bond_duration           BIGINT  NOT NULL,
	is_rolling              BOOLEAN NOT NULL,
	notice_period_duration  BIGINT  NOT NULL,
	withdrawal_requested_at BIGINT  NOT NULL,
	active                  BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS slash_history (
	id                  BIGSERIAL PRIMARY KEY,
	identity            TEXT    NOT NULL,
	slash_amount        NUMERIC NOT NULL,
	reason              TEXT    NOT NULL,
	ts                  BIGINT  NOT NULL,
	total_slashed_after NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS slash_history_identity_idx ON slash_history (identity, id);

CREATE TABLE IF NOT EXISTS emergency_records (
	id                  BIGSERIAL PRIMARY KEY,
	identity            TEXT    NOT NULL,
	gross_amount        NUMERIC NOT NULL,
	fee_amount          NUMERIC NOT NULL,
	net_amount          NUMERIC NOT NULL,
	treasury            TEXT    NOT NULL,
	approved_admin      TEXT    NOT NULL,
	approved_governance TEXT    NOT NULL,
	reason              TEXT    NOT NULL,
	ts                  BIGINT  NOT NULL
);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresBondStore persists bonds in PostgreSQL via pgx.
type PostgresBondStore struct {
	pool *pgxpool.Pool
}

func NewPostgresBondStore(pool *pgxpool.Pool) *PostgresBondStore {
	return &PostgresBondStore{pool: pool}
}

const bondColumns = `identity, bonded_amount::TEXT, slashed_amount::TEXT, bond_start,
	bond_duration, is_rolling, notice_period_duration, withdrawal_requested_at, active`

func (s *PostgresBondStore) Create(ctx context.Context, bond *models.IdentityBond) error {
	// An inactive record may be replaced; an active one is a conflict.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bonds (identity, bonded_amount, slashed_amount, bond_start,
			bond_duration, is_rolling, notice_period_duration, withdrawal_requested_at, active)
		VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity) DO UPDATE SET
			bonded_amount = EXCLUDED.bonded_amount,
			slashed_amount = EXCLUDED.slashed_amount,
			bond_start = EXCLUDED.bond_start,
			bond_duration = EXCLUDED.bond_duration,
			is_rolling = EXCLUDED.is_rolling,
			notice_period_duration = EXCLUDED.notice_period_duration,
			withdrawal_requested_at = EXCLUDED.withdrawal_requested_at,
			active = EXCLUDED.active
		WHERE bonds.active = FALSE`,
		bond.Identity, bond.BondedAmount.String(), bond.SlashedAmount.String(),
		int64(bond.BondStart), int64(bond.BondDuration), bond.IsRolling,
		int64(bond.NoticePeriodDuration), int64(bond.WithdrawalRequestedAt), bond.Active,
	)
	if err != nil {
		return fmt.Errorf("insert bond: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresBondStore) Get(ctx context.Context, identity string) (*models.IdentityBond, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bondColumns+` FROM bonds WHERE identity = $1`, identity)
	bond, err := scanBond(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get bond: %w", err)
	}
	return bond, nil
}

func (s *PostgresBondStore) Update(ctx context.Context, bond *models.IdentityBond) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bonds SET
			bonded_amount = $2::NUMERIC,
			slashed_amount = $3::NUMERIC,
			bond_start = $4,
			bond_duration = $5,
			is_rolling = $6,
			notice_period_duration = $7,
			withdrawal_requested_at = $8,
			active = $9
		WHERE identity = $1`,
		bond.Identity, bond.BondedAmount.String(), bond.SlashedAmount.String(),
		int64(bond.BondStart), int64(bond.BondDuration), bond.IsRolling,
		int64(bond.NoticePeriodDuration), int64(bond.WithdrawalRequestedAt), bond.Active,
	)
	if err != nil {
		return fmt.Errorf("update bond: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresBondStore) CreateAll(ctx context.Context, bonds []*models.IdentityBond) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	// Same conflict rule as Create: an inactive slot is replaced, an active
	// one aborts the whole batch.
	for _, bond := range bonds {
		tag, err := tx.Exec(ctx, `
			INSERT INTO bonds (identity, bonded_amount, slashed_amount, bond_start,
				bond_duration, is_rolling, notice_period_duration, withdrawal_requested_at, active)
			VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (identity) DO UPDATE SET
				bonded_amount = EXCLUDED.bonded_amount,
				slashed_amount = EXCLUDED.slashed_amount,
				bond_start = EXCLUDED.bond_start,
				bond_duration = EXCLUDED.bond_duration,
				is_rolling = EXCLUDED.is_rolling,
				notice_period_duration = EXCLUDED.notice_period_duration,
				withdrawal_requested_at = EXCLUDED.withdrawal_requested_at,
				active = EXCLUDED.active
			WHERE bonds.active = FALSE`,
			bond.Identity, bond.BondedAmount.String(), bond.SlashedAmount.String(),
			int64(bond.BondStart), int64(bond.BondDuration), bond.IsRolling,
			int64(bond.NoticePeriodDuration), int64(bond.WithdrawalRequestedAt), bond.Active,
		)
		if err != nil {
			return fmt.Errorf("insert batch bond: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return sentinel.ErrConflict
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBond(row rowScanner) (*models.IdentityBond, error) {
	var (
		bond                 models.IdentityBond
		bonded, slashed      string
		start, duration      int64
		notice, requestedAt  int64
	)
	err := row.Scan(&bond.Identity, &bonded, &slashed, &start,
		&duration, &bond.IsRolling, &notice, &requestedAt, &bond.Active)
	if err != nil {
		return nil, err
	}
	if bond.BondedAmount, err = amount.Parse(bonded); err != nil {
		return nil, fmt.Errorf("parse bonded amount: %w", err)
	}
	if bond.SlashedAmount, err = amount.Parse(slashed); err != nil {
		return nil, fmt.Errorf("parse slashed amount: %w", err)
	}
	bond.BondStart = uint64(start)
	bond.BondDuration = uint64(duration)
	bond.NoticePeriodDuration = uint64(notice)
	bond.WithdrawalRequestedAt = uint64(requestedAt)
	return &bond, nil
}

// PostgresSlashHistoryStore persists the append-only slash log.
type PostgresSlashHistoryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSlashHistoryStore(pool *pgxpool.Pool) *PostgresSlashHistoryStore {
	return &PostgresSlashHistoryStore{pool: pool}
}

func (s *PostgresSlashHistoryStore) Append(ctx context.Context, record models.SlashRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slash_history (identity, slash_amount, reason, ts, total_slashed_after)
		VALUES ($1, $2::NUMERIC, $3, $4, $5::NUMERIC)`,
		record.Identity, record.SlashAmount.String(), record.Reason,
		int64(record.Timestamp), record.TotalSlashedAfter.String(),
	)
	if err != nil {
		return fmt.Errorf("append slash record: %w", err)
	}
	return nil
}

func (s *PostgresSlashHistoryStore) List(ctx context.Context, identity string) ([]models.SlashRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity, slash_amount::TEXT, reason, ts, total_slashed_after::TEXT
		FROM slash_history WHERE identity = $1 ORDER BY id`, identity)
	if err != nil {
		return nil, fmt.Errorf("list slash history: %w", err)
	}
	defer rows.Close()

	var records []models.SlashRecord
	for rows.Next() {
		var (
			record       models.SlashRecord
			slashAmt     string
			totalAfter   string
			ts           int64
		)
		if err := rows.Scan(&record.Identity, &slashAmt, &record.Reason, &ts, &totalAfter); err != nil {
			return nil, fmt.Errorf("scan slash record: %w", err)
		}
		if record.SlashAmount, err = amount.Parse(slashAmt); err != nil {
			return nil, fmt.Errorf("parse slash amount: %w", err)
		}
		if record.TotalSlashedAfter, err = amount.Parse(totalAfter); err != nil {
			return nil, fmt.Errorf("parse total slashed: %w", err)
		}
		record.Timestamp = uint64(ts)
		records = append(records, record)
	}
	return records, rows.Err()
}

// PostgresEmergencyStore persists immutable emergency withdrawal records.
type PostgresEmergencyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEmergencyStore(pool *pgxpool.Pool) *PostgresEmergencyStore {
	return &PostgresEmergencyStore{pool: pool}
}

func (s *PostgresEmergencyStore) Append(ctx context.Context, record *models.EmergencyRecord) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO emergency_records (identity, gross_amount, fee_amount, net_amount,
			treasury, approved_admin, approved_governance, reason, ts)
		VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8, $9)
		RETURNING id`,
		record.Identity, record.GrossAmount.String(), record.FeeAmount.String(),
		record.NetAmount.String(), record.Treasury, record.ApprovedAdmin,
		record.ApprovedGovernance, record.Reason, int64(record.Timestamp),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append emergency record: %w", err)
	}
	return uint64(id), nil
}

func (s *PostgresEmergencyStore) Get(ctx context.Context, id uint64) (*models.EmergencyRecord, error) {
	var (
		record          models.EmergencyRecord
		gross, fee, net string
		recordID, ts    int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, identity, gross_amount::TEXT, fee_amount::TEXT, net_amount::TEXT,
			treasury, approved_admin, approved_governance, reason, ts
		FROM emergency_records WHERE id = $1`, int64(id),
	).Scan(&recordID, &record.Identity, &gross, &fee, &net,
		&record.Treasury, &record.ApprovedAdmin, &record.ApprovedGovernance,
		&record.Reason, &ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get emergency record: %w", err)
	}
	if record.GrossAmount, err = amount.Parse(gross); err != nil {
		return nil, fmt.Errorf("parse gross amount: %w", err)
	}
	if record.FeeAmount, err = amount.Parse(fee); err != nil {
		return nil, fmt.Errorf("parse fee amount: %w", err)
	}
	if record.NetAmount, err = amount.Parse(net); err != nil {
		return nil, fmt.Errorf("parse net amount: %w", err)
	}
	record.ID = uint64(recordID)
	record.Timestamp = uint64(ts)
	return &record, nil
}

func (s *PostgresEmergencyStore) LatestID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM emergency_records`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest emergency id: %w", err)
	}
	return uint64(id), nil
}
