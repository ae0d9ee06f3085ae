package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/phoenix-ai/platform/internal/models"
)

var (
	ErrUserNotFound  = errors.New("ledger: user not found")
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// clampRetries bounds the compare-and-swap loop in DebitClamped.
const clampRetries = 5

// Ledger owns user balances. Every balance change is a single conditional
// UPDATE plus an append-only credit_transactions row in the same transaction.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Cost is max(1, floor(chars(reply) * creditPerCharacter)).
func Cost(reply string, creditPerCharacter float64) int64 {
	if creditPerCharacter <= 0 {
		creditPerCharacter = 1
	}
	c := int64(math.Floor(float64(utf8.RuneCountInString(reply)) * creditPerCharacter))
	if c < 1 {
		return 1
	}
	return c
}

func (l *Ledger) Balance(ctx context.Context, userID uint64) (int64, error) {
	var u models.User
	err := l.db.WithContext(ctx).Select("id", "credits").First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

// DebitOpts attaches audit context to a debit.
type DebitOpts struct {
	Reason         string
	ConversationID string
}

// CheckAndDebit decrements the balance by amount only if balance >= amount.
// A false result is the normal "not enough credits" outcome, not an error.
func (l *Ledger) CheckAndDebit(ctx context.Context, userID uint64, amount int64, opts DebitOpts) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if opts.Reason == "" {
		opts.Reason = models.ReasonTurn
	}

	debited := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND credits >= ?", userID, amount).
			UpdateColumn("credits", gorm.Expr("credits - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		debited = true

		balance, err := balanceTx(tx, userID)
		if err != nil {
			return err
		}
		return tx.Create(&models.CreditTransaction{
			UserID:         userID,
			Amount:         amount,
			Direction:      models.TxDebit,
			Reason:         opts.Reason,
			ConversationID: optString(opts.ConversationID),
			BalanceAfter:   balance,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("debit user %d: %w", userID, err)
	}
	return debited, nil
}

// ClampResult describes a debit that may have been only partly satisfied.
type ClampResult struct {
	Charged   int64
	Shortfall int64
}

// DebitClamped charges amount, or whatever is left when a concurrent debit
// got there first. The balance never goes below zero; any shortfall is
// written as a discrepancy ledger entry.
func (l *Ledger) DebitClamped(ctx context.Context, userID uint64, amount int64, opts DebitOpts) (ClampResult, error) {
	if opts.Reason == "" {
		opts.Reason = models.ReasonTurn
	}
	ok, err := l.CheckAndDebit(ctx, userID, amount, opts)
	if err != nil {
		return ClampResult{}, err
	}
	if ok {
		return ClampResult{Charged: amount}, nil
	}

	for i := 0; i < clampRetries; i++ {
		current, err := l.Balance(ctx, userID)
		if err != nil {
			return ClampResult{}, fmt.Errorf("clamp debit user %d: %w", userID, err)
		}
		if current >= amount {
			// topped up in the meantime
			ok, err := l.CheckAndDebit(ctx, userID, amount, opts)
			if err != nil {
				return ClampResult{}, err
			}
			if ok {
				return ClampResult{Charged: amount}, nil
			}
			continue
		}

		var res ClampResult
		swapped := false
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// compare-and-swap on the balance read above; an already empty
			// balance has nothing to swap
			if current > 0 {
				upd := tx.Model(&models.User{}).
					Where("id = ? AND credits = ?", userID, current).
					UpdateColumn("credits", 0)
				if upd.Error != nil {
					return upd.Error
				}
				if upd.RowsAffected == 0 {
					return nil
				}
			}
			swapped = true
			res = ClampResult{Charged: current, Shortfall: amount - current}

			if current > 0 {
				if err := tx.Create(&models.CreditTransaction{
					UserID:         userID,
					Amount:         current,
					Direction:      models.TxDebit,
					Reason:         opts.Reason,
					ConversationID: optString(opts.ConversationID),
					BalanceAfter:   0,
				}).Error; err != nil {
					return err
				}
			}
			return tx.Create(&models.CreditTransaction{
				UserID:         userID,
				Amount:         res.Shortfall,
				Direction:      models.TxDebit,
				Reason:         models.ReasonDiscrepancy,
				ConversationID: optString(opts.ConversationID),
				BalanceAfter:   0,
			}).Error
		})
		if err != nil {
			return ClampResult{}, fmt.Errorf("clamp debit user %d: %w", userID, err)
		}
		if swapped {
			return res, nil
		}
	}
	return ClampResult{}, fmt.Errorf("clamp debit user %d: balance kept changing", userID)
}

// Credit unconditionally increases the balance. When reference is set and a
// transaction with the same (user, reference) already exists, nothing is
// applied and applied=false is returned.
func (l *Ledger) Credit(ctx context.Context, userID uint64, amount int64, reason string, reference string) (applied bool, err error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if reason == "" {
		reason = models.ReasonAdjustment
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reference != "" {
			var n int64
			if err := tx.Model(&models.CreditTransaction{}).
				Where("user_id = ? AND reference = ?", userID, reference).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("credits", gorm.Expr("credits + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		balance, err := balanceTx(tx, userID)
		if err != nil {
			return err
		}
		applied = true
		return tx.Create(&models.CreditTransaction{
			UserID:       userID,
			Amount:       amount,
			Direction:    models.TxCredit,
			Reason:       reason,
			Reference:    optString(reference),
			BalanceAfter: balance,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("credit user %d: %w", userID, err)
	}
	return applied, nil
}

// History returns the most recent ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, userID uint64, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var txs []models.CreditTransaction
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).
		Limit(limit).
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func balanceTx(tx *gorm.DB, userID uint64) (int64, error) {
	var u models.User
	if err := tx.Select("id", "credits").First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return u.Credits, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
