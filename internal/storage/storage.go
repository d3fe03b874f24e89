// Package storage определяет контракт доступа к данным и его реализации.
//
// Каждая запись несёт номер версии, увеличиваемый при каждой успешной записи.
// Обновления выполняются по принципу compare-and-swap: запись с неожиданной
// версией отклоняется с ErrVersionConflict, а не перезаписывается молча.
package storage

import (
	"context"
	"errors"

	"github.com/mmeshcher/barpay-system/internal/model"
)

// ErrNotFound возвращается, если запрошенная запись отсутствует.
var (
	ErrNotFound = errors.New("record not found")
	// ErrEmailExists возвращается при попытке создать пользователя с занятым email.
	ErrEmailExists = errors.New("email already registered")
	// ErrCodeExists возвращается при коллизии кода выдачи заказа.
	ErrCodeExists = errors.New("redemption code already exists")
	// ErrVersionConflict возвращается, если версия записи изменилась с момента чтения.
	ErrVersionConflict = errors.New("version conflict")
	// ErrContention возвращается, когда CAS-цикл исчерпал лимит повторов.
	ErrContention = errors.New("too much contention, retry later")
)

// Store описывает контракт доступа к хранилищу пользователей и заказов.
//
// Create* присваивают записи версию 1. Update* принимают версию, прочитанную
// вызывающей стороной, и завершаются ErrVersionConflict при несовпадении.
type Store interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User, expectedVersion int64) (*model.User, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListOrdersByBar(ctx context.Context, barID string) ([]model.Order, error)
	ListPendingExternal(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, expectedVersion int64) (*model.Order, error)
}
