// Package user реализует регистрацию, аутентификацию и управление пользователями.
package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/barpay-system/internal/model"
	"github.com/mmeshcher/barpay-system/internal/storage"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	maxRetries     = 5
	retryBaseDelay = 10 * time.Millisecond
)

// Service содержит бизнес-логику работы с пользователями.
type Service struct {
	store storage.Store
}

// NewService создаёт сервис пользователей поверх указанного хранилища.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Солью служит неизменяемый идентификатор пользователя, чтобы смена email
// не ломала проверку пароля.
func hashPassword(userID, password string) []byte {
	sum := sha256.Sum256([]byte(userID + ":" + password))
	return sum[:]
}

// Register создаёт нового пользователя с нулевым балансом.
func (s *Service) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	id := uuid.NewString()
	u := &model.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: hashPassword(id, password),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// Authenticate проверяет email и пароль пользователя и возвращает его профиль.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(u.ID, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// Get возвращает пользователя по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetByEmail возвращает пользователя по email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.store.GetUserByEmail(ctx, email)
}

// List возвращает всех пользователей.
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

// Update описывает частичное обновление профиля пользователя.
// Нулевые указатели оставляют поле без изменений.
type Update struct {
	Name     *string
	Email    *string
	Password *string
}

// UpdateProfile применяет частичное обновление профиля через CAS-цикл.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd Update) (*model.User, error) {
	var result *model.User

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return err
		}

		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.Email != nil {
			u.Email = *upd.Email
		}
		if upd.Password != nil {
			u.PasswordHash = hashPassword(u.ID, *upd.Password)
		}

		updated, err := s.store.UpdateUser(ctx, u, u.Version)
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
			return nil, fmt.Errorf("%w: user %s", storage.ErrContention, id)
		}
		return nil, err
	}

	return result, nil
}
