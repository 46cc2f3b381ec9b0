package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"keygate.org/internal/gateway"
)

// Store is the durable permission ledger backed by Postgres. It mirrors the
// in-memory gateway semantics: one config row carries owner, fee and escrow,
// grants are append-only with a monotonic sequence, and paid users are a
// per-document set.
type Store struct {
	db         *sql.DB
	conditions gateway.CheckerResolver
}

var _ gateway.Service = (*Store)(nil)

// Open connects to Postgres via the pgx stdlib driver. conditions resolves
// external condition contracts for non-fee-gated documents; it may be nil when
// only fee-gated documents are expected.
func Open(dsn string, conditions gateway.CheckerResolver) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, conditions: conditions}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB, conditions gateway.CheckerResolver) *Store {
	return &Store{db: db, conditions: conditions}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Init writes the config row if absent. Idempotent.
func (s *Store) Init(ctx context.Context, owner gateway.Address, feeWei gateway.Wei) error {
	_, err := s.db.ExecContext(ctx, `
		insert into gateway_config(id, owner, fee_wei, escrow_wei)
		values (1, $1, $2, 0)
		on conflict (id) do nothing
	`, string(owner), int64(feeWei))
	return err
}

func (s *Store) GrantAccessControl(ctx context.Context, doc gateway.DocumentID, conditionContract, beneficiary gateway.Address, payment gateway.Wei) (gateway.Grant, error) {
	if payment < 0 {
		return gateway.Grant{}, gateway.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return gateway.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	fee, err := feeForUpdate(ctx, tx)
	if err != nil {
		return gateway.Grant{}, err
	}
	var exists int
	err = tx.QueryRowContext(ctx, `select 1 from gateway_grants where document_id=$1`, string(doc)).Scan(&exists)
	if err == nil {
		return gateway.Grant{}, gateway.ErrAlreadyUsed
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return gateway.Grant{}, err
	}
	if payment < fee {
		return gateway.Grant{}, gateway.ErrFeeTooLow
	}
	if payment > fee {
		return gateway.Grant{}, gateway.ErrFeeTooHigh
	}

	var seq uint64
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into gateway_grants(document_id, condition_contract, beneficiary, fee_wei)
		values ($1,$2,$3,$4) returning sequence, created_at
	`, string(doc), string(conditionContract), string(beneficiary), int64(payment)).Scan(&seq, &created); err != nil {
		return gateway.Grant{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update gateway_config set escrow_wei = escrow_wei + $1 where id=1
	`, int64(payment)); err != nil {
		return gateway.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return gateway.Grant{}, err
	}

	return gateway.Grant{
		DocumentID:        doc,
		ConditionContract: conditionContract,
		Beneficiary:       beneficiary,
		FeeWei:            payment,
		Sequence:          seq,
		CreatedAt:         created,
	}, nil
}

func (s *Store) PayFee(ctx context.Context, doc gateway.DocumentID, payer gateway.Address, payment gateway.Wei) error {
	if payment < 0 {
		return gateway.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	fee, err := feeForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	var condition string
	err = tx.QueryRowContext(ctx, `
		select condition_contract from gateway_grants where document_id=$1
	`, string(doc)).Scan(&condition)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	if err != nil {
		return err
	}
	if gateway.Address(condition) != gateway.ZeroAddress {
		return gateway.ErrNotFeeGated
	}
	if payment < fee {
		return gateway.ErrFeeTooLow
	}
	if payment > fee {
		return gateway.ErrFeeTooHigh
	}

	if _, err := tx.ExecContext(ctx, `
		insert into gateway_paid_users(document_id, payer)
		values ($1,$2) on conflict do nothing
	`, string(doc), string(payer)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update gateway_config set escrow_wei = escrow_wei + $1 where id=1
	`, int64(payment)); err != nil {
		return err
	}
	return tx.Commit()
}

// HasAccessControl answers the permission query. The condition contract, when
// one is registered, is consulted after the database read so a slow checker
// holds no transaction open.
func (s *Store) HasAccessControl(ctx context.Context, user gateway.Address, doc gateway.DocumentID) (bool, error) {
	var condition, beneficiary string
	err := s.db.QueryRowContext(ctx, `
		select condition_contract, beneficiary from gateway_grants where document_id=$1
	`, string(doc)).Scan(&condition, &beneficiary)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if gateway.Address(condition) == gateway.ZeroAddress {
		if gateway.Address(beneficiary) == user {
			return true, nil
		}
		var paid int
		err := s.db.QueryRowContext(ctx, `
			select 1 from gateway_paid_users where document_id=$1 and payer=$2
		`, string(doc), string(user)).Scan(&paid)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	if s.conditions == nil {
		return false, gateway.ErrUnknownCondition
	}
	checker, ok := s.conditions.Checker(gateway.Address(condition))
	if !ok {
		return false, gateway.ErrUnknownCondition
	}
	return checker.HasAccessControl(ctx, user, doc)
}

func (s *Store) WithdrawFee(ctx context.Context, caller gateway.Address) (gateway.Wei, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, _, escrow, err := configForUpdate(ctx, tx)
	if err != nil {
		return 0, err
	}
	if caller != owner {
		return 0, gateway.ErrNotOwner
	}
	if _, err := tx.ExecContext(ctx, `update gateway_config set escrow_wei = 0 where id=1`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return escrow, nil
}

func (s *Store) SetFeeWei(ctx context.Context, caller gateway.Address, fee gateway.Wei) error {
	if fee < 0 {
		return gateway.ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	owner, _, _, err := configForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	if caller != owner {
		return gateway.ErrNotOwner
	}
	if _, err := tx.ExecContext(ctx, `update gateway_config set fee_wei=$1 where id=1`, int64(fee)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FeeWei(ctx context.Context) (gateway.Wei, error) {
	var fee int64
	if err := s.db.QueryRowContext(ctx, `select fee_wei from gateway_config where id=1`).Scan(&fee); err != nil {
		return 0, err
	}
	return gateway.Wei(fee), nil
}

func (s *Store) EscrowBalance(ctx context.Context) (gateway.Wei, error) {
	var escrow int64
	if err := s.db.QueryRowContext(ctx, `select escrow_wei from gateway_config where id=1`).Scan(&escrow); err != nil {
		return 0, err
	}
	return gateway.Wei(escrow), nil
}

func (s *Store) ConditionContract(ctx context.Context, doc gateway.DocumentID) (gateway.Address, error) {
	var condition string
	err := s.db.QueryRowContext(ctx, `
		select condition_contract from gateway_grants where document_id=$1
	`, string(doc)).Scan(&condition)
	if errors.Is(err, sql.ErrNoRows) {
		return "", gateway.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return gateway.Address(condition), nil
}

func (s *Store) ListGrants(ctx context.Context, limit int, afterSeq uint64) ([]gateway.Grant, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select document_id, condition_contract, beneficiary, fee_wei, sequence, created_at
		from gateway_grants
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []gateway.Grant
	var last uint64
	for rows.Next() {
		var doc, condition, beneficiary string
		var fee int64
		var g gateway.Grant
		if err := rows.Scan(&doc, &condition, &beneficiary, &fee, &g.Sequence, &g.CreatedAt); err != nil {
			return nil, 0, err
		}
		g.DocumentID = gateway.DocumentID(doc)
		g.ConditionContract = gateway.Address(condition)
		g.Beneficiary = gateway.Address(beneficiary)
		g.FeeWei = gateway.Wei(fee)
		res = append(res, g)
		last = g.Sequence
	}
	return res, last, rows.Err()
}

// --- helpers ---

// feeForUpdate reads the current fee and locks the config row so concurrent
// grants serialize on it.
func feeForUpdate(ctx context.Context, tx *sql.Tx) (gateway.Wei, error) {
	var fee int64
	err := tx.QueryRowContext(ctx, `select fee_wei from gateway_config where id=1 for update`).Scan(&fee)
	if err != nil {
		return 0, err
	}
	return gateway.Wei(fee), nil
}

func configForUpdate(ctx context.Context, tx *sql.Tx) (gateway.Address, gateway.Wei, gateway.Wei, error) {
	var owner string
	var fee, escrow int64
	err := tx.QueryRowContext(ctx, `
		select owner, fee_wei, escrow_wei from gateway_config where id=1 for update
	`).Scan(&owner, &fee, &escrow)
	if err != nil {
		return "", 0, 0, err
	}
	return gateway.Address(owner), gateway.Wei(fee), gateway.Wei(escrow), nil
}
