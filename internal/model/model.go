// Package model содержит доменные сущности сервиса barpay.
package model

import "time"

// User представляет посетителя фестиваля с предоплаченным кошельком.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	BalanceCents int64
	Version      int64
	CreatedAt    time.Time
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentPix     PaymentMethod = "pix"
	PaymentCard    PaymentMethod = "card"
	PaymentBalance PaymentMethod = "balance"
)

// Valid сообщает, является ли способ оплаты одним из поддерживаемых.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentPix, PaymentCard, PaymentBalance:
		return true
	}
	return false
}

// External сообщает, подтверждается ли оплата внешним платёжным шлюзом.
func (m PaymentMethod) External() bool {
	return m == PaymentPix || m == PaymentCard
}

// OrderStatus описывает статус заказа в жизненном цикле выдачи.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusValidated OrderStatus = "validated"
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid сообщает, является ли статус одним из известных.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusValidated, OrderStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo сообщает, допустим ли переход заказа к статусу next.
// Статусы движутся строго вперёд и только на соседний шаг:
// pending → paid → validated → completed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid
	case OrderStatusPaid:
		return next == OrderStatusValidated
	case OrderStatusValidated:
		return next == OrderStatusCompleted
	}
	return false
}

// OrderItem описывает позицию заказа со снимком названия и цены на момент создания.
type OrderItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

// Order описывает заказ посетителя в конкретном баре.
// Code — публичный код выдачи, предъявляемый на стойке.
type Order struct {
	ID         string
	Code       string
	UserID     string
	BarID      string
	Items      []OrderItem
	TotalCents int64
	Payment    PaymentMethod
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
}
