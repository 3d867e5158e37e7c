package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

type idempotencyIndex struct {
	userID uuid.UUID
	key    string
}

type memoryTransfer struct {
	transfer          domain.Transfer
	nextDispatchAt    time.Time
	dispatchStartedAt *time.Time
	lastError         string
}

// MemoryRepository is an in-process Repository used for local runs and tests.
// All operations are serialized behind one mutex, which makes every multi-row write atomic.
type MemoryRepository struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*domain.User
	accounts      map[uuid.UUID]*domain.Account
	entries       map[uuid.UUID][]domain.Transaction
	beneficiaries map[uuid.UUID]*domain.Beneficiary
	transfers     map[uuid.UUID]*memoryTransfer
	idempotency   map[idempotencyIndex]uuid.UUID
	seq           int64
	now           func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[uuid.UUID]*domain.User),
		accounts:      make(map[uuid.UUID]*domain.Account),
		entries:       make(map[uuid.UUID][]domain.Transaction),
		beneficiaries: make(map[uuid.UUID]*domain.Beneficiary),
		transfers:     make(map[uuid.UUID]*memoryTransfer),
		idempotency:   make(map[idempotencyIndex]uuid.UUID),
		now:           time.Now,
	}
}

// SetClock overrides the time source used for timestamps and dispatch leases.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func copyUser(u *domain.User) *domain.User {
	out := *u
	if u.ProfileImage != nil {
		img := *u.ProfileImage
		out.ProfileImage = &img
	}
	if u.BiometricSecret != nil {
		out.BiometricSecret = append([]byte(nil), u.BiometricSecret...)
	}
	return &out
}

func (r *MemoryRepository) identityTaken(username, email string, except uuid.UUID) error {
	for _, u := range r.users {
		if u.ID == except {
			continue
		}
		if username != "" && domain.NormalizeIdentity(u.Username) == domain.NormalizeIdentity(username) {
			return ErrDuplicateUsername
		}
		if email != "" && domain.NormalizeIdentity(u.Email) == domain.NormalizeIdentity(email) {
			return ErrDuplicateEmail
		}
	}
	return nil
}

func (r *MemoryRepository) CreateUserWithAccounts(ctx context.Context, user *domain.User, accounts []domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.identityTaken(user.Username, user.Email, uuid.Nil); err != nil {
		return err
	}
	now := r.now().UTC()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.users[user.ID] = copyUser(user)

	for i := range accounts {
		acct := &accounts[i]
		if acct.ID == uuid.Nil {
			acct.ID = uuid.New()
		}
		acct.UserID = user.ID
		acct.Balance = acct.InitialBalance
		if acct.CreatedAt.IsZero() {
			acct.CreatedAt = now
		}
		acct.UpdatedAt = now
		stored := *acct
		r.accounts[acct.ID] = &stored
	}
	return nil
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *MemoryRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := domain.NormalizeIdentity(username)
	for _, u := range r.users {
		if domain.NormalizeIdentity(u.Username) == want {
			return copyUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) UpdateUserProfile(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if err := r.identityTaken("", user.Email, user.ID); err != nil {
		return err
	}
	updated := copyUser(user)
	updated.Username = existing.Username
	updated.PasswordHash = existing.PasswordHash
	updated.BiometricEnrolled = existing.BiometricEnrolled
	updated.BiometricSecret = existing.BiometricSecret
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = r.now().UTC()
	r.users[user.ID] = updated
	user.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *MemoryRepository) UpdateBiometricEnrollment(ctx context.Context, userID uuid.UUID, enrolled bool, secret []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.BiometricEnrolled = enrolled
	u.BiometricSecret = append([]byte(nil), secret...)
	u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Account, 0)
	for _, a := range r.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	out := append([]domain.Transaction(nil), r.entries[accountID]...)
	domain.SortTransactionsDesc(out)
	return out, nil
}

// appendLocked posts one entry. The caller holds r.mu and has checked funds.
func (r *MemoryRepository) appendLocked(acct *domain.Account, entry domain.LedgerEntry) domain.Transaction {
	r.seq++
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now().UTC()
	}
	acct.Balance += entry.Amount
	acct.UpdatedAt = r.now().UTC()
	tx := domain.Transaction{
		ID:           uuid.New(),
		AccountID:    acct.ID,
		TransferID:   entry.TransferID,
		Seq:          r.seq,
		OccurredAt:   occurredAt,
		Description:  entry.Description,
		Amount:       entry.Amount,
		Direction:    domain.DirectionFor(entry.Amount),
		Category:     entry.Category,
		BalanceAfter: acct.Balance,
	}
	r.entries[acct.ID] = append(r.entries[acct.ID], tx)
	return tx
}

func (r *MemoryRepository) AppendEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[entry.AccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if entry.Amount < 0 && acct.Balance+entry.Amount < 0 {
		return nil, ErrInsufficientFunds
	}
	tx := r.appendLocked(acct, entry)
	return &tx, nil
}

func (r *MemoryRepository) CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[beneficiary.UserID]; !ok {
		return ErrUserNotFound
	}
	if beneficiary.ID == uuid.Nil {
		beneficiary.ID = uuid.New()
	}
	if beneficiary.CreatedAt.IsZero() {
		beneficiary.CreatedAt = r.now().UTC()
	}
	stored := *beneficiary
	r.beneficiaries[beneficiary.ID] = &stored
	return nil
}

func (r *MemoryRepository) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID) (*domain.Beneficiary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beneficiaries[beneficiaryID]
	if !ok {
		return nil, ErrBeneficiaryNotFound
	}
	out := *b
	return &out, nil
}

func (r *MemoryRepository) FindBeneficiariesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Beneficiary, 0)
	for _, b := range r.beneficiaries {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) ExecuteTransfer(ctx context.Context, plan TransferPlan) (*domain.Transfer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := plan.Transfer
	if t.IdempotencyKey != nil {
		if id, ok := r.idempotency[idempotencyIndex{userID: t.UserID, key: *t.IdempotencyKey}]; ok {
			existing := r.transfers[id].transfer
			if existing.RequestHash != t.RequestHash {
				return nil, false, ErrIdempotencyKeyReused
			}
			return &existing, true, nil
		}
	}

	source, ok := r.accounts[t.SourceAccountID]
	if !ok {
		return nil, false, ErrAccountNotFound
	}
	var dest *domain.Account
	if t.DestinationAccountID != nil {
		dest, ok = r.accounts[*t.DestinationAccountID]
		if !ok {
			return nil, false, ErrAccountNotFound
		}
	}
	if source.Balance < t.Amount {
		return nil, false, ErrInsufficientFunds
	}

	occurredAt := plan.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now().UTC()
	}
	transferID := t.ID
	r.appendLocked(source, domain.LedgerEntry{
		AccountID:   source.ID,
		TransferID:  &transferID,
		OccurredAt:  occurredAt,
		Description: plan.DebitDescription,
		Amount:      -t.Amount,
		Category:    domain.CategoryTransfer,
	})
	if dest != nil {
		r.appendLocked(dest, domain.LedgerEntry{
			AccountID:   dest.ID,
			TransferID:  &transferID,
			OccurredAt:  occurredAt,
			Description: plan.CreditDescription,
			Amount:      t.Amount,
			Category:    domain.CategoryTransfer,
		})
	}

	t.SourceBalanceAfter = source.Balance
	t.CreatedAt = occurredAt
	t.UpdatedAt = occurredAt
	r.transfers[t.ID] = &memoryTransfer{transfer: t, nextDispatchAt: occurredAt}
	if t.IdempotencyKey != nil {
		r.idempotency[idempotencyIndex{userID: t.UserID, key: *t.IdempotencyKey}] = t.ID
	}
	out := t
	return &out, false, nil
}

func (r *MemoryRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	out := mt.transfer
	return &out, nil
}

func (r *MemoryRepository) FindTransferByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idempotency[idempotencyIndex{userID: userID, key: key}]
	if !ok {
		return nil, ErrTransferNotFound
	}
	out := r.transfers[id].transfer
	return &out, nil
}

func (r *MemoryRepository) sortedTransfers(match func(*memoryTransfer) bool) []domain.Transfer {
	out := make([]domain.Transfer, 0)
	for _, mt := range r.transfers {
		if match(mt) {
			out = append(out, mt.transfer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) FindTransfersByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sortedTransfers(func(mt *memoryTransfer) bool { return mt.transfer.UserID == userID })
	// newest first, matching the Postgres ordering
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MemoryRepository) FindTransfersByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sortedTransfers(func(mt *memoryTransfer) bool { return mt.transfer.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ClaimTransfersForDispatch(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	candidates := r.sortedTransfers(func(mt *memoryTransfer) bool {
		if mt.transfer.Status != domain.TransferStatusPending || mt.transfer.Kind != domain.TransferKindBeneficiary {
			return false
		}
		if mt.dispatchStartedAt != nil {
			return mt.dispatchStartedAt.Before(now.Add(-staleAfter))
		}
		return !mt.nextDispatchAt.After(now)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		mt := r.transfers[candidates[i].ID]
		started := now
		mt.dispatchStartedAt = &started
		mt.transfer.DispatchAttempts++
		candidates[i] = mt.transfer
	}
	return candidates, nil
}

func (r *MemoryRepository) MarkTransferSubmitted(ctx context.Context, transferID uuid.UUID, networkReference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	mt.dispatchStartedAt = nil
	if mt.transfer.Status != domain.TransferStatusPending {
		// a settlement or timeout got there first
		return nil
	}
	now := r.now().UTC()
	mt.transfer.Status = domain.TransferStatusSubmitted
	mt.transfer.NetworkReference = optionalString(networkReference)
	mt.transfer.SubmittedAt = &now
	mt.transfer.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) MarkTransferDispatchFailed(ctx context.Context, transferID uuid.UUID, retryAfter time.Duration, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	mt.dispatchStartedAt = nil
	mt.nextDispatchAt = r.now().UTC().Add(retryAfter)
	mt.lastError = reason
	return nil
}

func (r *MemoryRepository) MarkTransferSettled(ctx context.Context, transferID uuid.UUID, networkReference string) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	switch mt.transfer.Status {
	case domain.TransferStatusSettled:
	case domain.TransferStatusPending, domain.TransferStatusSubmitted, domain.TransferStatusFailedPendingReversal:
		mt.transfer.Status = domain.TransferStatusSettled
		mt.transfer.FailureReason = nil
		if ref := optionalString(networkReference); ref != nil {
			mt.transfer.NetworkReference = ref
		}
		mt.transfer.UpdatedAt = r.now().UTC()
		mt.dispatchStartedAt = nil
	default:
		return nil, ErrInvalidTransferState
	}
	out := mt.transfer
	return &out, nil
}

func (r *MemoryRepository) MarkTransferFailed(ctx context.Context, transferID uuid.UUID, reason string) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	switch mt.transfer.Status {
	case domain.TransferStatusFailedPendingReversal, domain.TransferStatusReversed:
	case domain.TransferStatusPending, domain.TransferStatusSubmitted:
		r.failLocked(mt, reason)
	default:
		return nil, ErrInvalidTransferState
	}
	out := mt.transfer
	return &out, nil
}

func (r *MemoryRepository) failLocked(mt *memoryTransfer, reason string) {
	mt.transfer.Status = domain.TransferStatusFailedPendingReversal
	mt.transfer.FailureReason = optionalString(reason)
	mt.transfer.UpdatedAt = r.now().UTC()
	mt.dispatchStartedAt = nil
}

func (r *MemoryRepository) ExpireStaleTransfers(ctx context.Context, cutoff time.Time, reason string) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stale := r.sortedTransfers(func(mt *memoryTransfer) bool {
		s := mt.transfer.Status
		return (s == domain.TransferStatusPending || s == domain.TransferStatusSubmitted) && mt.transfer.CreatedAt.Before(cutoff)
	})
	for i := range stale {
		mt := r.transfers[stale[i].ID]
		r.failLocked(mt, reason)
		stale[i] = mt.transfer
	}
	return stale, nil
}

func (r *MemoryRepository) ReverseTransfer(ctx context.Context, transferID uuid.UUID, occurredAt time.Time) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	if mt.transfer.Status != domain.TransferStatusFailedPendingReversal {
		return nil, ErrInvalidTransferState
	}
	source, ok := r.accounts[mt.transfer.SourceAccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	id := mt.transfer.ID
	r.appendLocked(source, domain.LedgerEntry{
		AccountID:   source.ID,
		TransferID:  &id,
		OccurredAt:  occurredAt,
		Description: domain.ReversalDescription,
		Amount:      mt.transfer.Amount,
		Category:    domain.CategoryTransfer,
	})
	mt.transfer.Status = domain.TransferStatusReversed
	mt.transfer.UpdatedAt = r.now().UTC()
	out := mt.transfer
	return &out, nil
}
