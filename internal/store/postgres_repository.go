/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for users, accounts, the transaction log, beneficiaries and
 * the transfer lifecycle.
 *
 * @notes
 * - Every balance change happens in the same database transaction as the log entry
 *   that explains it.
 * - Money movements run at SERIALIZABLE isolation, lock account rows in ascending id
 *   order, and are retried on serialization failures and deadlocks.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

const (
	maxSerializableAttempts = 5
	serializableRetryDelay  = 20 * time.Millisecond

	idempotencyConstraint = "transfers_idempotency_uq"
	usernameConstraint    = "users_username_lower_uq"
	emailConstraint       = "users_email_lower_uq"
)

const (
	userColumns        = `id, first_name, last_name, email, username, password_hash, phone_number, id_number, profile_image, biometric_enrolled, biometric_secret, created_at, updated_at`
	accountColumns     = `id, user_id, name, account_number, masked_number, balance, initial_balance, account_type, created_at, updated_at`
	transactionColumns = `id, account_id, transfer_id, seq, occurred_at, description, amount, direction, category, balance_after`
	beneficiaryColumns = `id, user_id, name, account_number, bank_name, branch_code, reference, created_at`
	transferColumns    = `id, user_id, idempotency_key, request_hash, source_account_id, destination_account_id, beneficiary_id, amount, reference, kind, status, source_balance_after, network_reference, failure_reason, submitted_at, dispatch_attempts, created_at, updated_at`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ---------------------------------------------------------------------------
// transaction helpers
// ---------------------------------------------------------------------------

func (r *PostgresRepository) runTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// withSerializableTx runs fn at SERIALIZABLE isolation, retrying when Postgres reports a
// serialization failure, a deadlock, or a race on the idempotency key.
func (r *PostgresRepository) withSerializableTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxSerializableAttempts; attempt++ {
		err = r.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		log.Printf("level=warn component=store op=%s msg=\"retrying serializable transaction\" attempt=%d err=%v", op, attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * serializableRetryDelay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, maxSerializableAttempts, err)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	case "23505":
		return pgErr.ConstraintName == idempotencyConstraint
	}
	return false
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func mapIdentityConflict(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case usernameConstraint:
		return ErrDuplicateUsername
	case emailConstraint:
		return ErrDuplicateEmail
	}
	return err
}

// ---------------------------------------------------------------------------
// scanners
// ---------------------------------------------------------------------------

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Username, &u.PasswordHash,
		&u.PhoneNumber, &u.IDNumber, &u.ProfileImage, &u.BiometricEnrolled, &u.BiometricSecret,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a   domain.Account
		typ string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.AccountNumber, &a.MaskedNumber, &a.Balance,
		&a.InitialBalance, &typ, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.Type = domain.AccountType(typ)
	return &a, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t         domain.Transaction
		direction string
		category  string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.TransferID, &t.Seq, &t.OccurredAt, &t.Description,
		&t.Amount, &direction, &category, &t.BalanceAfter); err != nil {
		return nil, err
	}
	t.Direction = domain.Direction(direction)
	t.Category = domain.Category(category)
	return &t, nil
}

func scanBeneficiary(row pgx.Row) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.AccountNumber, &b.BankName, &b.BranchCode, &b.Reference, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t      domain.Transfer
		kind   string
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.IdempotencyKey, &t.RequestHash, &t.SourceAccountID,
		&t.DestinationAccountID, &t.BeneficiaryID, &t.Amount, &t.Reference, &kind, &status,
		&t.SourceBalanceAfter, &t.NetworkReference, &t.FailureReason, &t.SubmittedAt,
		&t.DispatchAttempts, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	t.Kind = domain.TransferKind(kind)
	t.Status = domain.TransferStatus(status)
	return &t, nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collectTransfers(rows pgx.Rows) ([]domain.Transfer, error) {
	defer rows.Close()
	out := make([]domain.Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

// CreateUserWithAccounts inserts the user and its opening accounts in one transaction.
func (r *PostgresRepository) CreateUserWithAccounts(ctx context.Context, user *domain.User, accounts []domain.Account) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	return r.runTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var usernameTaken, emailTaken bool
		err := tx.QueryRow(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1)),
				EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($2))`,
			user.Username, user.Email).Scan(&usernameTaken, &emailTaken)
		if err != nil {
			return err
		}
		if usernameTaken {
			return ErrDuplicateUsername
		}
		if emailTaken {
			return ErrDuplicateEmail
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			user.ID, user.FirstName, user.LastName, user.Email, user.Username, user.PasswordHash,
			user.PhoneNumber, user.IDNumber, user.ProfileImage, user.BiometricEnrolled, user.BiometricSecret,
			user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return mapIdentityConflict(err)
		}

		for i := range accounts {
			acct := &accounts[i]
			if acct.ID == uuid.Nil {
				acct.ID = uuid.New()
			}
			acct.UserID = user.ID
			acct.Balance = acct.InitialBalance
			acct.CreatedAt, acct.UpdatedAt = now, now
			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (`+accountColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				acct.ID, acct.UserID, acct.Name, acct.AccountNumber, acct.MaskedNumber, acct.Balance,
				acct.InitialBalance, string(acct.Type), acct.CreatedAt, acct.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert account %s: %w", acct.Name, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindUserByUsername matches usernames case-insensitively.
func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, domain.NormalizeIdentity(username)))
}

// UpdateUserProfile writes the editable profile fields. Username, password and biometric
// state are left untouched.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, user *domain.User) error {
	var updatedAt time.Time
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, email = $4, phone_number = $5, id_number = $6,
			profile_image = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		user.ID, user.FirstName, user.LastName, user.Email, user.PhoneNumber, user.IDNumber, user.ProfileImage,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return mapIdentityConflict(err)
	}
	user.UpdatedAt = updatedAt
	return nil
}

func (r *PostgresRepository) UpdateBiometricEnrollment(ctx context.Context, userID uuid.UUID, enrolled bool, secret []byte) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET biometric_enrolled = $2, biometric_secret = $3, updated_at = NOW() WHERE id = $1`,
		userID, enrolled, secret)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// accounts and transaction log
// ---------------------------------------------------------------------------

func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at, name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY occurred_at DESC, seq DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// appendEntryTx writes the balance and the log entry for an account already locked by tx.
func appendEntryTx(ctx context.Context, tx pgx.Tx, entry domain.LedgerEntry, balanceAfter int64) (*domain.Transaction, error) {
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, entry.AccountID, balanceAfter); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	t := domain.Transaction{
		ID:           uuid.New(),
		AccountID:    entry.AccountID,
		TransferID:   entry.TransferID,
		OccurredAt:   occurredAt,
		Description:  entry.Description,
		Amount:       entry.Amount,
		Direction:    domain.DirectionFor(entry.Amount),
		Category:     entry.Category,
		BalanceAfter: balanceAfter,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, transfer_id, occurred_at, description, amount, direction, category, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		t.ID, t.AccountID, t.TransferID, t.OccurredAt, t.Description, t.Amount, string(t.Direction),
		string(t.Category), t.BalanceAfter,
	).Scan(&t.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &t, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// AppendEntry posts one entry and moves the balance with it.
func (r *PostgresRepository) AppendEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	var posted *domain.Transaction
	err := r.withSerializableTx(ctx, "append_entry", func(tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		next := balance + entry.Amount
		if entry.Amount < 0 && next < 0 {
			return ErrInsufficientFunds
		}
		posted, err = appendEntryTx(ctx, tx, entry, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// ---------------------------------------------------------------------------
// beneficiaries
// ---------------------------------------------------------------------------

func (r *PostgresRepository) CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO beneficiaries (id, user_id, name, account_number, bank_name, branch_code, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		b.ID, b.UserID, b.Name, b.AccountNumber, b.BankName, b.BranchCode, b.Reference,
	).Scan(&b.CreatedAt)
}

func (r *PostgresRepository) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID) (*domain.Beneficiary, error) {
	return scanBeneficiary(r.db.QueryRow(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, beneficiaryID))
}

func (r *PostgresRepository) FindBeneficiariesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error) {
	rows, err := r.db.Query(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Beneficiary, 0)
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// transfers
// ---------------------------------------------------------------------------

// ExecuteTransfer applies a validated transfer plan atomically.
func (r *PostgresRepository) ExecuteTransfer(ctx context.Context, plan TransferPlan) (*domain.Transfer, bool, error) {
	var (
		result   *domain.Transfer
		replayed bool
	)
	err := r.withSerializableTx(ctx, "execute_transfer", func(tx pgx.Tx) error {
		result, replayed = nil, false
		t := plan.Transfer

		if t.IdempotencyKey != nil {
			existing, err := scanTransfer(tx.QueryRow(ctx,
				`SELECT `+transferColumns+` FROM transfers WHERE user_id = $1 AND idempotency_key = $2`,
				t.UserID, *t.IdempotencyKey))
			switch {
			case err == nil:
				if existing.RequestHash != t.RequestHash {
					return ErrIdempotencyKeyReused
				}
				result, replayed = existing, true
				return nil
			case !errors.Is(err, ErrTransferNotFound):
				return err
			}
		}

		ids := []string{t.SourceAccountID.String()}
		if t.DestinationAccountID != nil {
			ids = append(ids, t.DestinationAccountID.String())
		}
		rows, err := tx.Query(ctx, `
			SELECT id, balance FROM accounts
			WHERE id = ANY($1::uuid[])
			ORDER BY id
			FOR UPDATE`, ids)
		if err != nil {
			return err
		}
		balances := make(map[uuid.UUID]int64, len(ids))
		for rows.Next() {
			var (
				id      uuid.UUID
				balance int64
			)
			if err := rows.Scan(&id, &balance); err != nil {
				rows.Close()
				return err
			}
			balances[id] = balance
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		sourceBalance, ok := balances[t.SourceAccountID]
		if !ok {
			return ErrAccountNotFound
		}
		if t.DestinationAccountID != nil {
			if _, ok := balances[*t.DestinationAccountID]; !ok {
				return ErrAccountNotFound
			}
		}
		if sourceBalance < t.Amount {
			return ErrInsufficientFunds
		}

		occurredAt := plan.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		t.SourceBalanceAfter = sourceBalance - t.Amount
		t.CreatedAt, t.UpdatedAt = occurredAt, occurredAt

		if _, err := tx.Exec(ctx, `
			INSERT INTO transfers (id, user_id, idempotency_key, request_hash, source_account_id,
				destination_account_id, beneficiary_id, amount, reference, kind, status,
				source_balance_after, next_dispatch_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13, $13)`,
			t.ID, t.UserID, t.IdempotencyKey, t.RequestHash, t.SourceAccountID, t.DestinationAccountID,
			t.BeneficiaryID, t.Amount, t.Reference, string(t.Kind), string(t.Status), t.SourceBalanceAfter,
			occurredAt); err != nil {
			return err
		}

		transferID := t.ID
		if _, err := appendEntryTx(ctx, tx, domain.LedgerEntry{
			AccountID:   t.SourceAccountID,
			TransferID:  &transferID,
			OccurredAt:  occurredAt,
			Description: plan.DebitDescription,
			Amount:      -t.Amount,
			Category:    domain.CategoryTransfer,
		}, t.SourceBalanceAfter); err != nil {
			return err
		}
		if t.DestinationAccountID != nil {
			destBalance := balances[*t.DestinationAccountID] + t.Amount
			if _, err := appendEntryTx(ctx, tx, domain.LedgerEntry{
				AccountID:   *t.DestinationAccountID,
				TransferID:  &transferID,
				OccurredAt:  occurredAt,
				Description: plan.CreditDescription,
				Amount:      t.Amount,
				Category:    domain.CategoryTransfer,
			}, destBalance); err != nil {
				return err
			}
		}

		result = &t
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, replayed, nil
}

func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	return scanTransfer(r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, transferID))
}

func (r *PostgresRepository) FindTransferByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transfer, error) {
	return scanTransfer(r.db.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

func (r *PostgresRepository) FindTransfersByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transfer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (r *PostgresRepository) FindTransfersByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// ClaimTransfersForDispatch leases due pending beneficiary transfers with SKIP LOCKED so
// several dispatchers can run side by side.
func (r *PostgresRepository) ClaimTransfersForDispatch(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = 50
	}
	staleAfterSeconds := int(staleAfter.Seconds())
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM transfers
			WHERE status = 'pending'
				AND kind = 'beneficiary'
				AND (
					(dispatch_started_at IS NULL AND next_dispatch_at <= NOW())
					OR dispatch_started_at < NOW() - ($2 * INTERVAL '1 second')
				)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transfers AS t
		SET dispatch_started_at = NOW(),
			dispatch_attempts = t.dispatch_attempts + 1
		FROM candidates
		WHERE t.id = candidates.id
		RETURNING `+prefixed("t", transferColumns), limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (r *PostgresRepository) MarkTransferSubmitted(ctx context.Context, transferID uuid.UUID, networkReference string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfers
		SET status = CASE WHEN status = 'pending' THEN 'submitted' ELSE status END,
			network_reference = CASE WHEN status = 'pending' THEN $2 ELSE network_reference END,
			submitted_at = CASE WHEN status = 'pending' THEN NOW() ELSE submitted_at END,
			dispatch_started_at = NULL,
			updated_at = NOW()
		WHERE id = $1`, transferID, optionalString(networkReference))
	return err
}

func (r *PostgresRepository) MarkTransferDispatchFailed(ctx context.Context, transferID uuid.UUID, retryAfter time.Duration, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfers
		SET dispatch_started_at = NULL,
			next_dispatch_at = NOW() + ($2 * INTERVAL '1 millisecond'),
			last_dispatch_error = $3,
			updated_at = NOW()
		WHERE id = $1`, transferID, retryAfter.Milliseconds(), reason)
	return err
}

// lockTransfer loads a transfer row under FOR UPDATE inside tx.
func lockTransfer(ctx context.Context, tx pgx.Tx, transferID uuid.UUID) (*domain.Transfer, error) {
	return scanTransfer(tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, transferID))
}

func (r *PostgresRepository) MarkTransferSettled(ctx context.Context, transferID uuid.UUID, networkReference string) (*domain.Transfer, error) {
	var out *domain.Transfer
	err := r.runTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := lockTransfer(ctx, tx, transferID)
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.TransferStatusSettled:
			out = current
			return nil
		case domain.TransferStatusPending, domain.TransferStatusSubmitted, domain.TransferStatusFailedPendingReversal:
		default:
			return ErrInvalidTransferState
		}
		out, err = scanTransfer(tx.QueryRow(ctx, `
			UPDATE transfers
			SET status = 'settled',
				failure_reason = NULL,
				network_reference = COALESCE($2, network_reference),
				dispatch_started_at = NULL,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+transferColumns, transferID, optionalString(networkReference)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) MarkTransferFailed(ctx context.Context, transferID uuid.UUID, reason string) (*domain.Transfer, error) {
	var out *domain.Transfer
	err := r.runTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := lockTransfer(ctx, tx, transferID)
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.TransferStatusFailedPendingReversal, domain.TransferStatusReversed:
			out = current
			return nil
		case domain.TransferStatusPending, domain.TransferStatusSubmitted:
		default:
			return ErrInvalidTransferState
		}
		out, err = scanTransfer(tx.QueryRow(ctx, `
			UPDATE transfers
			SET status = 'failed_pending_reversal',
				failure_reason = $2,
				dispatch_started_at = NULL,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+transferColumns, transferID, optionalString(reason)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) ExpireStaleTransfers(ctx context.Context, cutoff time.Time, reason string) ([]domain.Transfer, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE transfers
		SET status = 'failed_pending_reversal',
			failure_reason = $2,
			dispatch_started_at = NULL,
			updated_at = NOW()
		WHERE status IN ('pending', 'submitted') AND created_at < $1
		RETURNING `+transferColumns, cutoff, optionalString(reason))
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// ReverseTransfer credits the source back and flips the transfer to reversed in one
// serializable transaction.
func (r *PostgresRepository) ReverseTransfer(ctx context.Context, transferID uuid.UUID, occurredAt time.Time) (*domain.Transfer, error) {
	var out *domain.Transfer
	err := r.withSerializableTx(ctx, "reverse_transfer", func(tx pgx.Tx) error {
		current, err := lockTransfer(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if current.Status != domain.TransferStatusFailedPendingReversal {
			return ErrInvalidTransferState
		}
		balance, err := lockBalance(ctx, tx, current.SourceAccountID)
		if err != nil {
			return err
		}
		id := current.ID
		if _, err := appendEntryTx(ctx, tx, domain.LedgerEntry{
			AccountID:   current.SourceAccountID,
			TransferID:  &id,
			OccurredAt:  occurredAt,
			Description: domain.ReversalDescription,
			Amount:      current.Amount,
			Category:    domain.CategoryTransfer,
		}, balance+current.Amount); err != nil {
			return err
		}
		out, err = scanTransfer(tx.QueryRow(ctx, `
			UPDATE transfers SET status = 'reversed', updated_at = NOW()
			WHERE id = $1
			RETURNING `+transferColumns, transferID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
