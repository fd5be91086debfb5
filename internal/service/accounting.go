package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/token-ledger/internal/audit"
	apperrors "github.com/openclaw/token-ledger/internal/errors"
	"github.com/openclaw/token-ledger/internal/metrics"
	"github.com/openclaw/token-ledger/internal/model"
	"github.com/openclaw/token-ledger/internal/repository"
	"github.com/openclaw/token-ledger/internal/sse"
	"github.com/openclaw/token-ledger/internal/store"
)

// Operation names used for metrics labels.
const (
	opBootstrap       = "bootstrap_account"
	opRecordUsage     = "record_usage"
	opRemainingTokens = "remaining_tokens"
	opResetUsage      = "reset_usage"
	opSetLimit        = "set_limit"
	opGetAccount      = "get_account"
	opListAccounts    = "list_accounts"
	opUsageHistory    = "usage_history"
	opUsageSummary    = "usage_summary"
	opExportSnapshot  = "export_snapshot"
)

const publishTimeout = 2 * time.Second

// EventPublisher fans committed changes out to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, accountID, eventType string, data any) error
}

type BootstrapParams struct {
	ID         string
	Name       string
	Role       string
	TokenLimit *int64
}

type RecordUsageParams struct {
	AccountID string
	Tokens    int64
	CostUSD   float64
	Model     string
	Task      string
}

// AccountingService is the single entry point to the ledger. Every operation
// runs as one transaction: lock, load, mutate, save, unlock. Token and cost
// signs are not validated; negative values are applied as given.
type AccountingService struct {
	mu                sync.Mutex
	store             store.Store
	publisher         EventPublisher
	now               func() time.Time
	defaultTokenLimit int64
}

type Option func(*AccountingService)

func WithPublisher(publisher EventPublisher) Option {
	return func(s *AccountingService) {
		s.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AccountingService) {
		s.now = now
	}
}

func WithDefaultTokenLimit(limit int64) Option {
	return func(s *AccountingService) {
		s.defaultTokenLimit = limit
	}
}

func NewAccountingService(st store.Store, opts ...Option) *AccountingService {
	s := &AccountingService{
		store:             st,
		now:               time.Now,
		defaultTokenLimit: model.DefaultTokenLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tx is the state a transaction body works on.
type tx struct {
	snap     *model.Snapshot
	accounts *repository.AccountRegistry
	ledger   *repository.UsageLedger
	dirty    bool
}

// transact holds the lock across load, fn and (if fn marked the snapshot
// dirty) save. Nothing is persisted when fn or save fails.
func (s *AccountingService) transact(ctx context.Context, operation string, fn func(t *tx) error) (err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusOK
		if apperrors.IsNotFound(err) {
			status = metrics.StatusNotFound
		} else if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordTransaction(operation, status, time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return storeError("load", err)
	}

	t := &tx{
		snap:     snap,
		accounts: repository.NewAccountRegistry(snap),
		ledger:   repository.NewUsageLedger(snap, s.now),
	}
	if err := fn(t); err != nil {
		return err
	}
	if !t.dirty {
		return nil
	}

	if err := s.store.Save(ctx, t.snap); err != nil {
		return storeError("save", err)
	}
	return nil
}

func storeError(stage string, err error) error {
	log.Error().Err(err).Str("stage", stage).Msg("ledger store failure")
	if errors.Is(err, store.ErrCorruptSnapshot) {
		return apperrors.CorruptStore(err)
	}
	return apperrors.Storage(err)
}

func (s *AccountingService) defaultCreateParams(id string) model.CreateAccountParams {
	return model.CreateAccountParams{
		ID:         id,
		Name:       model.DefaultAccountName,
		Role:       model.DefaultAccountRole,
		TokenLimit: s.defaultTokenLimit,
	}
}

// BootstrapAccount creates the account if it does not exist. Existing
// accounts are returned unchanged regardless of params.
func (s *AccountingService) BootstrapAccount(ctx context.Context, params BootstrapParams) (*model.Account, error) {
	create := s.defaultCreateParams(params.ID)
	if params.Name != "" {
		create.Name = params.Name
	}
	if params.Role != "" {
		create.Role = params.Role
	}
	if params.TokenLimit != nil {
		create.TokenLimit = *params.TokenLimit
	}

	var (
		account model.Account
		created bool
	)
	err := s.transact(ctx, opBootstrap, func(t *tx) error {
		account, created = t.accounts.EnsureAccount(create)
		t.dirty = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap account: %w", err)
	}

	if created {
		s.accountCreated(account)
	}
	return &account, nil
}

// RecordUsage provisions unknown accounts with defaults, adds tokens to the
// account counter and appends one ledger entry, all in one transaction.
func (s *AccountingService) RecordUsage(ctx context.Context, params RecordUsageParams) (*model.UsageEvent, error) {
	var (
		event   model.UsageEvent
		account model.Account
		created bool
	)
	err := s.transact(ctx, opRecordUsage, func(t *tx) error {
		account, created = t.accounts.EnsureAccount(s.defaultCreateParams(params.AccountID))

		used := account.TokenUsed + params.Tokens
		account, _ = t.accounts.UpdateAccount(params.AccountID, model.UpdateAccountParams{TokenUsed: &used})

		event = t.ledger.Append(model.AppendUsageParams{
			AccountID:   params.AccountID,
			RequestType: params.Task,
			Model:       params.Model,
			TokensUsed:  params.Tokens,
			CostUSD:     params.CostUSD,
		})
		t.dirty = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	if created {
		s.accountCreated(account)
	}

	metrics.RecordUsage(event.Model, event.RequestType, event.TokensUsed, event.CostUSD)
	audit.Log(audit.Event{
		Type:      audit.EventUsageRecorded,
		AccountID: account.ID,
		Details: map[string]interface{}{
			"eventId":   event.ID,
			"tokens":    event.TokensUsed,
			"costUsd":   event.CostUSD,
			"model":     event.Model,
			"task":      event.RequestType,
			"tokenUsed": account.TokenUsed,
		},
	})
	s.publish(ctx, account.ID, sse.EventUsageRecorded, map[string]any{
		"event":     event,
		"remaining": account.Remaining(),
	})

	return &event, nil
}

// RemainingTokens returns limit minus used. A negative value means the
// account is over quota; a missing account is a NotFound error.
func (s *AccountingService) RemainingTokens(ctx context.Context, accountID string) (int64, error) {
	var remaining int64
	err := s.transact(ctx, opRemainingTokens, func(t *tx) error {
		account, ok := t.accounts.GetAccount(accountID)
		if !ok {
			return apperrors.NotFound("Account")
		}
		remaining = account.Remaining()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remaining tokens: %w", err)
	}
	return remaining, nil
}

// ResetUsage sets TokenUsed to zero. Ledger entries are kept.
func (s *AccountingService) ResetUsage(ctx context.Context, accountID string) (*model.Account, error) {
	var (
		account  model.Account
		previous int64
	)
	err := s.transact(ctx, opResetUsage, func(t *tx) error {
		existing, ok := t.accounts.GetAccount(accountID)
		if !ok {
			return apperrors.NotFound("Account")
		}
		previous = existing.TokenUsed

		zero := int64(0)
		account, _ = t.accounts.UpdateAccount(accountID, model.UpdateAccountParams{TokenUsed: &zero})
		t.dirty = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}

	log.Info().
		Str("accountId", accountID).
		Int64("previousTokenUsed", previous).
		Msg("token usage reset")
	audit.Log(audit.Event{
		Type:      audit.EventUsageReset,
		AccountID: accountID,
		Details:   map[string]interface{}{"previousTokenUsed": previous},
	})
	s.publish(ctx, accountID, sse.EventUsageReset, map[string]any{
		"account":   account,
		"remaining": account.Remaining(),
	})

	return &account, nil
}

// SetLimit changes TokenLimit only. An unknown account is created with the
// new limit instead of the default one.
func (s *AccountingService) SetLimit(ctx context.Context, accountID string, limit int64) (*model.Account, error) {
	var (
		account  model.Account
		previous int64
		created  bool
	)
	err := s.transact(ctx, opSetLimit, func(t *tx) error {
		create := s.defaultCreateParams(accountID)
		create.TokenLimit = limit

		var existing model.Account
		existing, created = t.accounts.EnsureAccount(create)
		if created {
			account = existing
			t.dirty = true
			return nil
		}

		previous = existing.TokenLimit
		account, _ = t.accounts.UpdateAccount(accountID, model.UpdateAccountParams{TokenLimit: &limit})
		t.dirty = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set limit: %w", err)
	}

	if created {
		s.accountCreated(account)
	} else {
		audit.Log(audit.Event{
			Type:      audit.EventLimitChanged,
			AccountID: accountID,
			Details: map[string]interface{}{
				"previousTokenLimit": previous,
				"tokenLimit":         account.TokenLimit,
			},
		})
	}
	s.publish(ctx, accountID, sse.EventLimitChanged, map[string]any{
		"account":   account,
		"remaining": account.Remaining(),
	})

	return &account, nil
}

func (s *AccountingService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var account model.Account
	err := s.transact(ctx, opGetAccount, func(t *tx) error {
		var ok bool
		account, ok = t.accounts.GetAccount(accountID)
		if !ok {
			return apperrors.NotFound("Account")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (s *AccountingService) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.transact(ctx, opListAccounts, func(t *tx) error {
		accounts = t.accounts.ListAccounts()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// UsageHistory returns the account's ledger entries in append order. An
// account with no entries, known or not, yields an empty slice.
func (s *AccountingService) UsageHistory(ctx context.Context, accountID string) ([]model.UsageEvent, error) {
	var events []model.UsageEvent
	err := s.transact(ctx, opUsageHistory, func(t *tx) error {
		events = t.ledger.QueryByAccount(accountID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	return events, nil
}

func (s *AccountingService) UsageSummary(ctx context.Context, accountID string) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	err := s.transact(ctx, opUsageSummary, func(t *tx) error {
		summary = t.ledger.Summarize(accountID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	return &summary, nil
}

// ExportSnapshot returns a consistent copy of the whole ledger.
func (s *AccountingService) ExportSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := s.transact(ctx, opExportSnapshot, func(t *tx) error {
		snap = t.snap.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return snap, nil
}

func (s *AccountingService) accountCreated(account model.Account) {
	metrics.AccountsCreatedTotal.Inc()
	log.Info().
		Str("accountId", account.ID).
		Int64("tokenLimit", account.TokenLimit).
		Msg("account created")
	audit.Log(audit.Event{
		Type:      audit.EventAccountBootstrap,
		AccountID: account.ID,
		Details: map[string]interface{}{
			"name":       account.Name,
			"role":       account.Role,
			"tokenLimit": account.TokenLimit,
		},
	})
}

// publish runs after the transaction committed; failures are logged only.
func (s *AccountingService) publish(ctx context.Context, accountID, eventType string, data any) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, accountID, eventType, data); err != nil {
		log.Warn().
			Err(err).
			Str("accountId", accountID).
			Str("eventType", eventType).
			Msg("failed to publish usage event")
	}
}
