package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationResolved = errors.New("reservation already resolved")
)

type ReservationState string

const (
	StatePending    ReservationState = "pending"
	StateCommitted  ReservationState = "committed"
	StateRolledBack ReservationState = "rolled_back"
)

// Reservation is a provisional hold against an account's balance,
// resolved exactly once by Commit or Rollback.
type Reservation struct {
	ID        string
	AccountID string
	Cost      int64
	State     ReservationState
}

type Account struct {
	ID                  string
	Balance             int64
	LowBalanceThreshold int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AccountStore is the durable side of the ledger: read when an account
// first appears, written on every committed debit.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*Account, error)
	Put(ctx context.Context, account *Account) error
}

// Ledger owns the authoritative spendable balance per account. Reserve
// is the single serialization point: the balance-minus-pending check and
// the reservation insert happen under one per-account lock, so two
// concurrent reservations can never both see the same headroom.
type Ledger struct {
	store               AccountStore
	startingBalance     int64
	lowBalanceThreshold int64

	mu       sync.Mutex
	accounts map[string]*accountState
}

type accountState struct {
	mu      sync.Mutex
	balance int64
	// pending holds unresolved reservations; their costs are
	// provisionally subtracted from the headroom seen by Reserve.
	pending   map[string]*Reservation
	threshold int64
	created   time.Time
}

func New(store AccountStore, startingBalance, lowBalanceThreshold int64) *Ledger {
	return &Ledger{
		store:               store,
		startingBalance:     startingBalance,
		lowBalanceThreshold: lowBalanceThreshold,
		accounts:            make(map[string]*accountState),
	}
}

// Reserve atomically checks balance minus the pending sum against cost
// and inserts a pending reservation. Fails with ErrInsufficientCredits
// without mutating state when headroom is short.
func (l *Ledger) Reserve(ctx context.Context, accountID string, cost int64) (*Reservation, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("reservation cost must be positive, got %d", cost)
	}

	state, err := l.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	headroom := state.balance
	for _, res := range state.pending {
		headroom -= res.Cost
	}
	if headroom < cost {
		return nil, ErrInsufficientCredits
	}

	res := &Reservation{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Cost:      cost,
		State:     StatePending,
	}
	state.pending[res.ID] = res
	return res, nil
}

// Commit debits the reservation's cost and resolves it. The returned
// low flag reports a one-time low-balance crossing: the balance moved
// from above the threshold to at-or-below it, or hit exactly zero.
// Resolving an already-resolved reservation fails with
// ErrReservationResolved and never double-debits.
func (l *Ledger) Commit(ctx context.Context, res *Reservation) (int64, bool, error) {
	state, err := l.account(ctx, res.AccountID)
	if err != nil {
		return 0, false, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	held, ok := state.pending[res.ID]
	if !ok {
		return 0, false, fmt.Errorf("%w: reservation %s", ErrReservationResolved, res.ID)
	}
	delete(state.pending, res.ID)

	before := state.balance
	state.balance -= held.Cost
	held.State = StateCommitted
	res.State = StateCommitted

	low := (before > state.threshold && state.balance <= state.threshold) || state.balance == 0

	// Persist the committed balance. A write failure does not undo the
	// commit: the in-memory balance is authoritative and the store
	// catches up on the next successful write.
	if err := l.store.Put(ctx, &Account{
		ID:                  res.AccountID,
		Balance:             state.balance,
		LowBalanceThreshold: state.threshold,
		CreatedAt:           state.created,
		UpdatedAt:           time.Now().UTC(),
	}); err != nil {
		log.Printf("ledger: failed to persist balance for account %s: %v", res.AccountID, err)
	}

	return state.balance, low, nil
}

// Rollback releases the reservation without touching the balance.
func (l *Ledger) Rollback(ctx context.Context, res *Reservation) error {
	state, err := l.account(ctx, res.AccountID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	held, ok := state.pending[res.ID]
	if !ok {
		return fmt.Errorf("%w: reservation %s", ErrReservationResolved, res.ID)
	}
	delete(state.pending, res.ID)
	held.State = StateRolledBack
	res.State = StateRolledBack
	return nil
}

// BalanceOf reports the committed balance. Pending reservations are not
// subtracted; that view is internal to Reserve.
func (l *Ledger) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	state, err := l.account(ctx, accountID)
	if err != nil {
		return 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.balance, nil
}

// account returns the in-memory state for accountID, loading it from
// the store on first sight and creating a funded account when the store
// has never seen it either.
func (l *Ledger) account(ctx context.Context, id string) (*accountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, ok := l.accounts[id]; ok {
		return state, nil
	}

	acct, err := l.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		acct = &Account{
			ID:                  id,
			Balance:             l.startingBalance,
			LowBalanceThreshold: l.lowBalanceThreshold,
			CreatedAt:           time.Now().UTC(),
		}
		if err := l.store.Put(ctx, acct); err != nil {
			return nil, fmt.Errorf("failed to create account %s: %w", id, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	state := &accountState{
		balance:   acct.Balance,
		pending:   make(map[string]*Reservation),
		threshold: acct.LowBalanceThreshold,
		created:   acct.CreatedAt,
	}
	l.accounts[id] = state
	return state, nil
}
