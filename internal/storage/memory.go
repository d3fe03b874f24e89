package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mmeshcher/barpay-system/internal/model"
)

// MemoryStore хранит записи в памяти процесса. Используется в тестах и при
// запуске без настроенной базы данных. Семантика версий и уникальности
// совпадает с PostgresStore.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	orders map[string]*model.Order
	emails map[string]string // email -> userID
	codes  map[string]string // code -> orderID
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*model.User),
		orders: make(map[string]*model.Order),
		emails: make(map[string]string),
		codes:  make(map[string]string),
	}
}

// Close освобождает ресурсы хранилища.
func (s *MemoryStore) Close() error { return nil }

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &cp
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}

// CreateUser сохраняет нового пользователя с версией 1.
func (s *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[u.Email]; ok {
		return ErrEmailExists
	}

	cp := cloneUser(u)
	cp.Version = 1
	s.users[cp.ID] = cp
	s.emails[cp.Email] = cp.ID

	u.Version = cp.Version
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

// ListUsers возвращает всех пользователей, отсортированных по дате создания.
func (s *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		res = append(res, *cloneUser(u))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// UpdateUser перезаписывает изменяемые поля пользователя при совпадении версии.
func (s *MemoryStore) UpdateUser(ctx context.Context, u *model.User, expectedVersion int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[u.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	if u.Email != cur.Email {
		if _, taken := s.emails[u.Email]; taken {
			return nil, ErrEmailExists
		}
		delete(s.emails, cur.Email)
		s.emails[u.Email] = u.ID
	}

	cp := cloneUser(u)
	cp.Version = cur.Version + 1
	cp.CreatedAt = cur.CreatedAt
	s.users[cp.ID] = cp
	return cloneUser(cp), nil
}

// CreateOrder сохраняет новый заказ с версией 1.
func (s *MemoryStore) CreateOrder(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[o.Code]; ok {
		return ErrCodeExists
	}

	cp := cloneOrder(o)
	cp.Version = 1
	s.orders[cp.ID] = cp
	s.codes[cp.Code] = cp.ID

	o.Version = cp.Version
	return nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetOrderByCode возвращает заказ по публичному коду выдачи.
func (s *MemoryStore) GetOrderByCode(ctx context.Context, code string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryStore) listOrders(match func(*model.Order) bool) []model.Order {
	res := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if match(o) {
			res = append(res, *cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

// ListOrders возвращает все заказы.
func (s *MemoryStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOrders(func(*model.Order) bool { return true }), nil
}

// ListOrdersByUser возвращает заказы пользователя.
func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOrders(func(o *model.Order) bool { return o.UserID == userID }), nil
}

// ListOrdersByBar возвращает заказы бара.
func (s *MemoryStore) ListOrdersByBar(ctx context.Context, barID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOrders(func(o *model.Order) bool { return o.BarID == barID }), nil
}

// ListPendingExternal возвращает заказы, ожидающие подтверждения платёжного шлюза.
func (s *MemoryStore) ListPendingExternal(ctx context.Context, limit int) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.listOrders(func(o *model.Order) bool {
		return o.Status == model.OrderStatusPending && o.Payment.External()
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// UpdateOrderStatus изменяет статус заказа при совпадении версии.
func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, expectedVersion int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	cur.Status = status
	cur.Version++
	return cloneOrder(cur), nil
}
