package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"
	"election_ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Operation labels used in logs and metrics
const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrTransferFailed      = errors.New("external transfer failed")
	ErrRefundFailed        = errors.New("refund could not be journaled; debit stands")
	ErrInvariantViolation  = errors.New("ledger invariant violated")
)

// Transferer moves value out of the ledger to the withdrawing account
type Transferer interface {
	Transfer(ctx context.Context, to identity.Principal, amount uint64) error
}

// TransferFunc adapts a function to Transferer
type TransferFunc func(ctx context.Context, to identity.Principal, amount uint64) error

// Transfer calls f
func (f TransferFunc) Transfer(ctx context.Context, to identity.Principal, amount uint64) error {
	return f(ctx, to, amount)
}

// State is a detached copy of the ledger
type State struct {
	Balances map[identity.Principal]uint64 `json:"balances"`
	Total    uint64                        `json:"total"`
	LastSeq  uint64                        `json:"last_seq"`
}

// Ledger keeps per-account balances and their running total.
// pending holds debits whose external transfer has not completed yet.
type Ledger struct {
	balances   map[identity.Principal]uint64
	total      uint64
	pending    uint64
	transferer Transferer
	journal    event.Recorder
	lastSeq    uint64
	logger     *zap.Logger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

// New creates a new ledger. A positive initialFunding is deposited to creator.
// A nil transferer makes withdrawals purely internal.
func New(creator identity.Principal, initialFunding uint64, transferer Transferer, journal event.Recorder, logger *zap.Logger, m *metrics.Metrics) (*Ledger, error) {
	if journal == nil {
		journal = event.NewJournal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		balances:   make(map[identity.Principal]uint64),
		transferer: transferer,
		journal:    journal,
		logger:     logger,
		metrics:    m,
	}

	if initialFunding > 0 {
		if err := l.Deposit(creator, initialFunding); err != nil {
			return nil, fmt.Errorf("initial funding: %w", err)
		}
	}
	l.metrics.SetLedgerTotal(l.total)
	return l, nil
}

// Deposit credits amount to caller
func (l *Ledger) Deposit(caller identity.Principal, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkDeposit(caller, amount); err != nil {
		return l.reject(OpDeposit, caller, err)
	}
	if err := l.record(event.TypeDeposit, caller, event.Deposit{Account: caller, Amount: amount}); err != nil {
		return l.reject(OpDeposit, caller, err)
	}
	l.credit(caller, amount)

	l.metrics.LedgerOp(OpDeposit, nil)
	l.logger.Info("Deposit accepted",
		zap.String("account", caller.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", l.balances[caller]))
	return nil
}

// Withdraw debits amount from caller and then transfers it out.
// The debit is applied and the lock released before the transfer runs,
// so a re-entrant call observes the reduced balance. A failed transfer
// is refunded and reported as ErrTransferFailed. When the refund itself
// cannot be journaled the debit stands and ErrRefundFailed is returned too.
func (l *Ledger) Withdraw(ctx context.Context, caller identity.Principal, amount uint64) error {
	l.mu.Lock()
	if err := l.checkWithdraw(caller, amount); err != nil {
		l.mu.Unlock()
		return l.reject(OpWithdraw, caller, err)
	}
	if err := l.record(event.TypeWithdrawal, caller, event.Withdrawal{Account: caller, Amount: amount}); err != nil {
		l.mu.Unlock()
		return l.reject(OpWithdraw, caller, err)
	}
	l.debit(caller, amount)
	l.pending += amount
	l.metrics.SetLedgerTotal(l.total)
	l.mu.Unlock()

	if l.transferer != nil {
		if err := l.transferer.Transfer(ctx, caller, amount); err != nil {
			if refundErr := l.refund(caller, amount, err); refundErr != nil {
				return l.reject(OpWithdraw, caller, fmt.Errorf("%w: %v: %w", ErrTransferFailed, err, refundErr))
			}
			return l.reject(OpWithdraw, caller, fmt.Errorf("%w: %v", ErrTransferFailed, err))
		}
	}
	l.settle(amount)

	l.metrics.LedgerOp(OpWithdraw, nil)
	l.logger.Info("Withdrawal completed",
		zap.String("account", caller.String()),
		zap.Uint64("amount", amount))
	return nil
}

// GetBalance returns the balance of p
func (l *Ledger) GetBalance(p identity.Principal) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[p]
}

// GetTotalBalance returns the sum of all balances
func (l *Ledger) GetTotalBalance() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// LastSeq returns the sequence of the last event this ledger recorded or applied
func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

func (l *Ledger) checkDeposit(account identity.Principal, amount uint64) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	reserved := l.total + l.pending
	if reserved < l.total || reserved+amount < reserved {
		return ErrBalanceOverflow
	}
	return nil
}

func (l *Ledger) checkWithdraw(account identity.Principal, amount uint64) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if balance := l.balances[account]; amount > balance {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// refund reverses a debit after a failed transfer. The credit is applied
// only once the refund event is journaled.
func (l *Ledger) refund(account identity.Principal, amount uint64, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending -= amount

	payload := event.Refund{Account: account, Amount: amount, Reason: cause.Error()}
	if err := l.record(event.TypeRefund, account, payload); err != nil {
		l.logger.Error("Failed to journal refund, debit stands",
			zap.String("account", account.String()),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	l.credit(account, amount)

	l.logger.Warn("Withdrawal refunded",
		zap.String("account", account.String()),
		zap.Uint64("amount", amount),
		zap.Error(cause))
	return nil
}

func (l *Ledger) settle(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending -= amount
}

func (l *Ledger) credit(account identity.Principal, amount uint64) {
	l.balances[account] += amount
	l.total += amount
	l.metrics.SetLedgerTotal(l.total)
}

func (l *Ledger) debit(account identity.Principal, amount uint64) {
	l.balances[account] -= amount
	l.total -= amount
	if l.balances[account] == 0 {
		delete(l.balances, account)
	}
}

func (l *Ledger) record(typ event.Type, actor identity.Principal, payload interface{}) error {
	e, err := event.New(typ, actor, payload)
	if err != nil {
		return err
	}
	recorded, err := l.journal.Record(e)
	if err != nil {
		return fmt.Errorf("recording %s: %w", typ, err)
	}
	l.lastSeq = recorded.Seq
	return nil
}

func (l *Ledger) reject(op string, caller identity.Principal, err error) error {
	l.metrics.LedgerOp(op, err)
	l.logger.Debug("Ledger operation rejected",
		zap.String("operation", op),
		zap.String("account", caller.String()),
		zap.Error(err))
	return err
}
