// Package wallet реализует операции пополнения и списания баланса кошелька.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/barpay-system/internal/storage"
)

// ErrInvalidAmount возвращается при неположительной сумме операции.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds возвращается при списании суммы, превышающей баланс.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	maxRetries     = 5
	retryBaseDelay = 10 * time.Millisecond
)

// Service выполняет денежные операции над балансом пользователя.
//
// Конкурентные изменения одного баланса сериализуются циклом
// read-compute-CAS-write: при конфликте версий операция перечитывает
// актуальный баланс и повторяется с экспоненциальной задержкой.
type Service struct {
	store storage.Store
}

// NewService создаёт сервис кошелька поверх указанного хранилища.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Credit увеличивает баланс пользователя на amountCents и возвращает новый баланс.
func (s *Service) Credit(ctx context.Context, userID string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, userID, amountCents)
}

// Debit уменьшает баланс пользователя на amountCents и возвращает новый баланс.
// Частичное списание не выполняется: при нехватке средств баланс не меняется.
func (s *Service) Debit(ctx context.Context, userID string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amountCents)
}

func (s *Service) apply(ctx context.Context, userID string, delta int64) (int64, error) {
	var newBalance int64

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		next := u.BalanceCents + delta
		if next < 0 {
			return ErrInsufficientFunds
		}
		u.BalanceCents = next

		updated, err := s.store.UpdateUser(ctx, u, u.Version)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}

		newBalance = updated.BalanceCents
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return 0, fmt.Errorf("%w: user %s", storage.ErrContention, userID)
		}
		return 0, err
	}

	return newBalance, nil
}
