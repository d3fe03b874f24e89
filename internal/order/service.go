// Package order реализует создание заказов, машину статусов и сагу оплаты балансом.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/barpay-system/internal/gateway"
	"github.com/mmeshcher/barpay-system/internal/model"
	"github.com/mmeshcher/barpay-system/internal/storage"
)

// ErrInvalidOrder возвращается при некорректном черновике заказа.
var (
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	maxRetries     = 5
	retryBaseDelay = 10 * time.Millisecond
	maxCodeRetries = 5

	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 12
)

// Wallet описывает операции кошелька, используемые при оплате балансом.
type Wallet interface {
	Debit(ctx context.Context, userID string, amountCents int64) (int64, error)
	Credit(ctx context.Context, userID string, amountCents int64) (int64, error)
}

// Draft описывает черновик заказа, присланный клиентом.
// DeclaredTotalCents — сумма, посчитанная клиентом; расходится с суммой
// по позициям — заказ отклоняется.
type Draft struct {
	UserID             string
	BarID              string
	Items              []model.OrderItem
	DeclaredTotalCents int64
	Payment            model.PaymentMethod
}

// Service реализует бизнес-логику заказов.
type Service struct {
	store         storage.Store
	wallet        Wallet
	gatewayClient *gateway.Client
}

// NewService создаёт сервис заказов с указанным хранилищем, кошельком и
// клиентом платёжного шлюза (клиент может быть nil).
func NewService(store storage.Store, wallet Wallet, gatewayClient *gateway.Client) *Service {
	return &Service{
		store:         store,
		wallet:        wallet,
		gatewayClient: gatewayClient,
	}
}

func validateDraft(d Draft) error {
	if d.UserID == "" || d.BarID == "" {
		return fmt.Errorf("%w: user and bar are required", ErrInvalidOrder)
	}
	if !d.Payment.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, d.Payment)
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}
	for _, it := range d.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %q has quantity %d", ErrInvalidOrder, it.Name, it.Quantity)
		}
		if it.PriceCents < 0 {
			return fmt.Errorf("%w: item %q has negative price", ErrInvalidOrder, it.Name)
		}
	}
	return nil
}

func computeTotal(items []model.OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.PriceCents * int64(it.Quantity)
	}
	return total
}

func newCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random: %v", err))
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return "ORD-" + string(buf)
}

// Create проверяет черновик, вычисляет сумму и создаёт заказ.
//
// При оплате балансом сначала списываются средства, затем сохраняется заказ
// со статусом paid. Если сохранение не удалось, списание компенсируется
// обратным пополнением на ту же сумму — незавершённая сага не оставляет
// денег в подвешенном состоянии. Заказы pix и card сохраняются со статусом
// pending до подтверждения шлюза.
func (s *Service) Create(ctx context.Context, d Draft) (*model.Order, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	total := computeTotal(d.Items)
	if d.DeclaredTotalCents != total {
		return nil, fmt.Errorf("%w: declared total %d does not match computed %d",
			ErrInvalidOrder, d.DeclaredTotalCents, total)
	}

	if _, err := s.store.GetUser(ctx, d.UserID); err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:         uuid.NewString(),
		UserID:     d.UserID,
		BarID:      d.BarID,
		Items:      append([]model.OrderItem(nil), d.Items...),
		TotalCents: total,
		Payment:    d.Payment,
		Status:     model.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if d.Payment == model.PaymentBalance {
		if _, err := s.wallet.Debit(ctx, d.UserID, total); err != nil {
			return nil, err
		}
		o.Status = model.OrderStatusPaid
	}

	var persistErr error
	for i := 0; i < maxCodeRetries; i++ {
		o.Code = newCode()
		persistErr = s.store.CreateOrder(ctx, o)
		if persistErr == nil || !errors.Is(persistErr, storage.ErrCodeExists) {
			break
		}
	}
	if persistErr != nil {
		if o.Status == model.OrderStatusPaid {
			if _, cerr := s.wallet.Credit(ctx, d.UserID, total); cerr != nil {
				return nil, fmt.Errorf("persist order: %w (compensating credit failed: %v)", persistErr, cerr)
			}
		}
		return nil, fmt.Errorf("persist order: %w", persistErr)
	}

	return o, nil
}

// GetByID возвращает заказ по внутреннему идентификатору.
func (s *Service) GetByID(ctx context.Context, id string) (*model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// GetByCode возвращает заказ по публичному коду выдачи.
func (s *Service) GetByCode(ctx context.Context, code string) (*model.Order, error) {
	return s.store.GetOrderByCode(ctx, code)
}

// List возвращает все заказы.
func (s *Service) List(ctx context.Context) ([]model.Order, error) {
	return s.store.ListOrders(ctx)
}

// ListByUser возвращает заказы пользователя.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// ListByBar возвращает заказы бара.
func (s *Service) ListByBar(ctx context.Context, barID string) ([]model.Order, error) {
	return s.store.ListOrdersByBar(ctx, barID)
}

// UpdateStatus переводит заказ в статус next.
//
// Переход проверяется по машине статусов на каждой итерации CAS-цикла:
// конфликт версий приводит к перечитыванию заказа и повторной проверке,
// поэтому устаревший переход никогда не записывается поверх чужого.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next model.OrderStatus) (*model.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	var result *model.Order

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}

		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, o.Status, next)
		}

		updated, err := s.store.UpdateOrderStatus(ctx, orderID, next, o.Version)
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
			return nil, fmt.Errorf("%w: order %s", storage.ErrContention, orderID)
		}
		return nil, err
	}

	return result, nil
}

// StartPaymentUpdates запускает фоновый процесс опроса платёжного шлюза для
// заказов pix и card, ожидающих подтверждения оплаты.
func (s *Service) StartPaymentUpdates(ctx context.Context, logger *zap.Logger) {
	if s.gatewayClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPaymentBatch(ctx, logger)
			}
		}
	}()
}

func (s *Service) processPaymentBatch(ctx context.Context, logger *zap.Logger) {
	orders, err := s.store.ListPendingExternal(ctx, 100)
	if err != nil {
		logger.Error("list pending orders", zap.Error(err))
		return
	}

	for _, o := range orders {
		resp, statusCode, retryAfter, err := s.gatewayClient.GetPaymentStatus(ctx, o.ID)
		if err != nil {
			logger.Warn("payment status request failed",
				zap.String("order", o.ID), zap.Error(err))
			continue
		}

		if statusCode == 0 {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			continue
		}

		// Отклонённые и ещё не обработанные платежи оставляют заказ в pending.
		if resp.Status != gateway.StatusConfirmed {
			continue
		}

		if _, err := s.UpdateStatus(ctx, o.ID, model.OrderStatusPaid); err != nil {
			logger.Warn("promote order to paid",
				zap.String("order", o.ID), zap.Error(err))
		}
	}
}
