package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const DemoPassword = "Password123"

type seedAccount struct {
	name    string
	number  string
	typ     domain.AccountType
	opening string
}

type seedEntry struct {
	account     int
	ago         time.Duration
	description string
	amount      string
	category    domain.Category
}

type seedUser struct {
	firstName, lastName, email, username, phone, idNumber string

	accounts      []seedAccount
	entries       []seedEntry
	beneficiaries []domain.CreateBeneficiaryRequest
}

// Opening balances are chosen so that opening plus the seeded history lands on the
// dashboard figures (24560.75, 15200.30, 18750.45).
var demoUsers = []seedUser{
	{
		firstName: "Sarah", lastName: "Johnson", email: "sarah@example.com", username: "sarah",
		phone: "071 234 5678", idNumber: "8901235678901",
		accounts: []seedAccount{
			{name: CurrentAccountName, number: "1234567890", typ: domain.AccountTypeCurrent, opening: "7053.05"},
			{name: SavingsAccountName, number: "0987654321", typ: domain.AccountTypeSavings, opening: "15200.30"},
		},
		entries: []seedEntry{
			{account: 0, ago: 5 * 24 * time.Hour, description: "Transfer to John", amount: "-500.00", category: domain.CategoryTransfer},
			{account: 0, ago: 4 * 24 * time.Hour, description: "Uber Ride", amount: "-87.50", category: domain.CategoryTransport},
			{account: 0, ago: 3 * 24 * time.Hour, description: "Netflix Subscription", amount: "-159.00", category: domain.CategoryEntertainment},
			{account: 0, ago: 2 * 24 * time.Hour, description: "Salary Deposit", amount: "18500.00", category: domain.CategoryIncome},
			{account: 0, ago: 2 * time.Hour, description: "Woolworths", amount: "-245.80", category: domain.CategoryShopping},
		},
		beneficiaries: []domain.CreateBeneficiaryRequest{
			{Name: "John Smith", AccountNumber: "5678901234", BankName: "FNB", BranchCode: "250655", Reference: "John"},
			{Name: "Sarah Johnson", AccountNumber: "0987654321", BankName: "Nedbank", BranchCode: "198765", Reference: "Sarah"},
		},
	},
	{
		firstName: "John", lastName: "Smith", email: "john@example.com", username: "john",
		phone: "082 345 6789", idNumber: "9001235678901",
		accounts: []seedAccount{
			{name: CurrentAccountName, number: "5678901234", typ: domain.AccountTypeCurrent, opening: "18750.45"},
		},
	},
}

// SeedDemoData loads the demo users, accounts, history and beneficiaries. Rows already
// present are left alone and missing ones are added, so a run that stopped part way is
// completed by the next call.
func (s *Service) SeedDemoData(ctx context.Context) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash demo password: %w", err)
	}

	now := s.now()
	for _, su := range demoUsers {
		user, accounts, err := s.seedUserWithAccounts(ctx, su, hash)
		if err != nil {
			return err
		}
		posted, err := s.seedEntries(ctx, su, accounts, now)
		if err != nil {
			return err
		}
		added, err := s.seedBeneficiaries(ctx, su, user.ID)
		if err != nil {
			return err
		}
		log.Printf("level=info component=seed msg=\"demo user ready\" username=%s accounts=%d entries_posted=%d beneficiaries_added=%d",
			su.username, len(accounts), posted, added)
	}
	return nil
}

// seedUserWithAccounts returns the demo user and its accounts in seed order, creating
// them when the user does not exist yet.
func (s *Service) seedUserWithAccounts(ctx context.Context, su seedUser, hash []byte) (*domain.User, []domain.Account, error) {
	existing, err := s.repo.FindUserByUsername(ctx, su.username)
	switch {
	case err == nil:
		owned, err := s.repo.FindAccountsByUserID(ctx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		byNumber := make(map[string]domain.Account, len(owned))
		for _, a := range owned {
			byNumber[a.AccountNumber] = a
		}
		accounts := make([]domain.Account, 0, len(su.accounts))
		for _, sa := range su.accounts {
			a, ok := byNumber[sa.number]
			if !ok {
				return nil, nil, fmt.Errorf("seed user %s: account %s missing", su.username, sa.number)
			}
			accounts = append(accounts, a)
		}
		return existing, accounts, nil
	case !errors.Is(err, store.ErrUserNotFound):
		return nil, nil, err
	}

	user := &domain.User{
		ID:           uuid.New(),
		FirstName:    su.firstName,
		LastName:     su.lastName,
		Email:        su.email,
		Username:     su.username,
		PasswordHash: string(hash),
		PhoneNumber:  su.phone,
		IDNumber:     su.idNumber,
	}
	accounts := make([]domain.Account, 0, len(su.accounts))
	for _, sa := range su.accounts {
		opening := domain.MustParseAmount(sa.opening)
		accounts = append(accounts, domain.Account{
			ID:             uuid.New(),
			Name:           sa.name,
			AccountNumber:  sa.number,
			MaskedNumber:   domain.MaskAccountNumber(sa.number),
			InitialBalance: opening,
			Balance:        opening,
			Type:           sa.typ,
		})
	}
	if err := s.repo.CreateUserWithAccounts(ctx, user, accounts); err != nil {
		return nil, nil, fmt.Errorf("seed user %s: %w", su.username, err)
	}
	return user, accounts, nil
}

// seedEntries posts the history entries an account does not carry yet. An entry is
// identified by its description and signed amount.
func (s *Service) seedEntries(ctx context.Context, su seedUser, accounts []domain.Account, now time.Time) (int, error) {
	type entryKey struct {
		description string
		amount      int64
	}
	present := make(map[uuid.UUID]map[entryKey]bool, len(accounts))
	for _, a := range accounts {
		txns, err := s.repo.FindTransactionsByAccountID(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		keys := make(map[entryKey]bool, len(txns))
		for _, t := range txns {
			keys[entryKey{t.Description, t.Amount}] = true
		}
		present[a.ID] = keys
	}

	posted := 0
	for _, se := range su.entries {
		accountID := accounts[se.account].ID
		amount := domain.MustParseAmount(se.amount)
		if present[accountID][entryKey{se.description, amount}] {
			continue
		}
		_, err := s.PostEntry(ctx, domain.LedgerEntry{
			AccountID:   accountID,
			OccurredAt:  now.Add(-se.ago),
			Description: se.description,
			Amount:      amount,
			Category:    se.category,
		})
		if err != nil {
			return posted, fmt.Errorf("seed entry %q: %w", se.description, err)
		}
		posted++
	}
	return posted, nil
}

func (s *Service) seedBeneficiaries(ctx context.Context, su seedUser, userID uuid.UUID) (int, error) {
	saved, err := s.repo.FindBeneficiariesByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(saved))
	for _, b := range saved {
		have[b.AccountNumber] = true
	}
	added := 0
	for _, req := range su.beneficiaries {
		if have[req.AccountNumber] {
			continue
		}
		if _, err := s.AddBeneficiary(ctx, userID, req); err != nil {
			return added, fmt.Errorf("seed beneficiary %s: %w", req.Name, err)
		}
		added++
	}
	return added, nil
}
