// Package redemption реализует одноразовое погашение заказа по коду выдачи.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/barpay-system/internal/model"
	"github.com/mmeshcher/barpay-system/internal/storage"
)

// ErrNotYetPaid возвращается при попытке погасить неоплаченный заказ.
var (
	ErrNotYetPaid = errors.New("order is not paid yet")
	// ErrAlreadyRedeemed возвращается при повторном погашении заказа.
	ErrAlreadyRedeemed = errors.New("order already redeemed")
)

const (
	maxRetries     = 5
	retryBaseDelay = 10 * time.Millisecond
)

// Validator выполняет погашение заказа на стойке выдачи.
type Validator struct {
	store storage.Store
}

// NewValidator создаёт валидатор погашений поверх указанного хранилища.
func NewValidator(store storage.Store) *Validator {
	return &Validator{store: store}
}

// Validate находит заказ по коду выдачи и переводит его paid → validated.
//
// CAS-запись гарантирует ровно одно успешное погашение: из двух конкурентных
// вызовов только один застаёт прочитанную версию, второй получает конфликт,
// перечитывает заказ и видит статус validated — ErrAlreadyRedeemed, а не
// повторный успех.
func (v *Validator) Validate(ctx context.Context, code string) (*model.Order, error) {
	var result *model.Order

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := v.store.GetOrderByCode(ctx, code)
		if err != nil {
			return err
		}

		switch o.Status {
		case model.OrderStatusPending:
			return ErrNotYetPaid
		case model.OrderStatusValidated, model.OrderStatusCompleted:
			return ErrAlreadyRedeemed
		}

		updated, err := v.store.UpdateOrderStatus(ctx, o.ID, model.OrderStatusValidated, o.Version)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}

		result = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: code %s", storage.ErrContention, code)
		}
		return nil, err
	}

	return result, nil
}
