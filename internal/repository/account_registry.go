package repository

import (
	"sort"

	"github.com/openclaw/token-ledger/internal/model"
)

// AccountRegistry reads and mutates accounts inside a loaded snapshot. It
// holds no lock; the owning transaction does.
type AccountRegistry struct {
	snap *model.Snapshot
}

func NewAccountRegistry(snap *model.Snapshot) *AccountRegistry {
	return &AccountRegistry{snap: snap.Normalize()}
}

// EnsureAccount returns the existing account unchanged, or inserts a new one
// with TokenUsed = 0. created reports whether an insert happened.
func (r *AccountRegistry) EnsureAccount(params model.CreateAccountParams) (account model.Account, created bool) {
	if existing, ok := r.snap.Users[params.ID]; ok {
		return existing, false
	}

	account = model.Account{
		ID:         params.ID,
		Name:       params.Name,
		Role:       params.Role,
		TokenLimit: params.TokenLimit,
		TokenUsed:  0,
	}
	r.snap.Users[params.ID] = account
	return account, true
}

func (r *AccountRegistry) GetAccount(id string) (model.Account, bool) {
	account, ok := r.snap.Users[id]
	return account, ok
}

// UpdateAccount applies the non-nil fields of params. It never creates.
func (r *AccountRegistry) UpdateAccount(id string, params model.UpdateAccountParams) (model.Account, bool) {
	account, ok := r.snap.Users[id]
	if !ok {
		return model.Account{}, false
	}

	if params.Name != nil {
		account.Name = *params.Name
	}
	if params.Role != nil {
		account.Role = *params.Role
	}
	if params.TokenLimit != nil {
		account.TokenLimit = *params.TokenLimit
	}
	if params.TokenUsed != nil {
		account.TokenUsed = *params.TokenUsed
	}

	r.snap.Users[id] = account
	return account, true
}

func (r *AccountRegistry) ListAccounts() []model.Account {
	accounts := make([]model.Account, 0, len(r.snap.Users))
	for _, account := range r.snap.Users {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}
