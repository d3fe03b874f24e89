// Package handler содержит HTTP-обработчики API сервиса barpay.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/barpay-system/internal/metrics"
	"github.com/mmeshcher/barpay-system/internal/model"
	"github.com/mmeshcher/barpay-system/internal/order"
	"github.com/mmeshcher/barpay-system/internal/user"
)

// Users определяет контракт сервиса пользователей, используемый обработчиками.
type Users interface {
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, id string, upd user.Update) (*model.User, error)
}

// Wallet определяет контракт кошелька, используемый обработчиками.
type Wallet interface {
	Credit(ctx context.Context, userID string, amountCents int64) (int64, error)
	Debit(ctx context.Context, userID string, amountCents int64) (int64, error)
}

// Orders определяет контракт сервиса заказов, используемый обработчиками.
type Orders interface {
	Create(ctx context.Context, d order.Draft) (*model.Order, error)
	GetByCode(ctx context.Context, code string) (*model.Order, error)
	List(ctx context.Context) ([]model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListByBar(ctx context.Context, barID string) ([]model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next model.OrderStatus) (*model.Order, error)
}

// Redeemer определяет контракт погашения заказа по коду выдачи.
type Redeemer interface {
	Validate(ctx context.Context, code string) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса barpay.
type Handler struct {
	users    Users
	wallet   Wallet
	orders   Orders
	redeemer Redeemer
	logger   *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(users Users, wallet Wallet, orders Orders, redeemer Redeemer, logger *zap.Logger) *Handler {
	return &Handler{
		users:    users,
		wallet:   wallet,
		orders:   orders,
		redeemer: redeemer,
		logger:   logger,
	}
}

// Пароль намеренно отсутствует в ответах.
type userResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Balance   float64 `json:"balance"`
	CreatedAt string  `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Balance:   reaisFromCents(u.BalanceCents),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type itemPayload struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type orderResponse struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	BarID         string        `json:"bar_id"`
	Items         []itemPayload `json:"items"`
	Total         float64       `json:"total"`
	PaymentMethod string        `json:"payment_method"`
	Status        string        `json:"status"`
	CreatedAt     string        `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	items := make([]itemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemPayload{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     reaisFromCents(it.PriceCents),
			Quantity:  it.Quantity,
		})
	}
	return orderResponse{
		ID:            o.ID,
		OrderID:       o.Code,
		UserID:        o.UserID,
		BarID:         o.BarID,
		Items:         items,
		Total:         reaisFromCents(o.TotalCents),
		PaymentMethod: string(o.Payment),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUser регистрирует нового пользователя.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}

	u, err := h.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, err, "create user")
		return
	}

	respondJSON(w, http.StatusCreated, toUserResponse(u))
}

// GetUsers возвращает пользователя по id или email, либо всех пользователей.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		u, err := h.users.Get(r.Context(), id)
		if err != nil {
			h.respondServiceError(w, err, "get user")
			return
		}
		respondJSON(w, http.StatusOK, toUserResponse(u))
		return
	}

	if email := q.Get("email"); email != "" {
		u, err := h.users.GetByEmail(r.Context(), email)
		if err != nil {
			h.respondServiceError(w, err, "get user by email")
			return
		}
		respondJSON(w, http.StatusOK, toUserResponse(u))
		return
	}

	users, err := h.users.List(r.Context())
	if err != nil {
		h.respondServiceError(w, err, "list users")
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

type updateUserRequest struct {
	ID       string  `json:"id"`
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UpdateUser применяет частичное обновление профиля пользователя.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), req.ID, user.Update{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondServiceError(w, err, "update user")
		return
	}

	respondJSON(w, http.StatusOK, toUserResponse(u))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, err, "login")
		return
	}

	respondJSON(w, http.StatusOK, toUserResponse(u))
}

type balanceRequest struct {
	Amount    float64 `json:"amount"`
	Operation string  `json:"operation"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// AdjustBalance пополняет или списывает баланс пользователя.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount := centsFromReais(req.Amount)

	var (
		newBalance int64
		err        error
	)
	switch req.Operation {
	case "add":
		newBalance, err = h.wallet.Credit(r.Context(), userID, amount)
	case "subtract":
		newBalance, err = h.wallet.Debit(r.Context(), userID, amount)
	default:
		respondError(w, http.StatusBadRequest, "operation must be add or subtract")
		return
	}
	if err != nil {
		metrics.WalletOperations.WithLabelValues(req.Operation, "error").Inc()
		h.respondServiceError(w, err, "adjust balance")
		return
	}

	metrics.WalletOperations.WithLabelValues(req.Operation, "ok").Inc()
	respondJSON(w, http.StatusOK, balanceResponse{Balance: reaisFromCents(newBalance)})
}

type createOrderRequest struct {
	UserID        string        `json:"user_id"`
	BarID         string        `json:"bar_id"`
	Items         []itemPayload `json:"items"`
	Total         float64       `json:"total"`
	PaymentMethod string        `json:"payment_method"`
}

// CreateOrder создаёт новый заказ.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" || req.BarID == "" || len(req.Items) == 0 || req.PaymentMethod == "" {
		respondError(w, http.StatusBadRequest, "user_id, bar_id, items and payment_method are required")
		return
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.OrderItem{
			ProductID:  it.ProductID,
			Name:       it.Name,
			PriceCents: centsFromReais(it.Price),
			Quantity:   it.Quantity,
		})
	}

	o, err := h.orders.Create(r.Context(), order.Draft{
		UserID:             req.UserID,
		BarID:              req.BarID,
		Items:              items,
		DeclaredTotalCents: centsFromReais(req.Total),
		Payment:            model.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.respondServiceError(w, err, "create order")
		return
	}

	metrics.OrdersCreated.WithLabelValues(string(o.Payment)).Inc()
	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

// GetOrders возвращает заказ по коду выдачи либо списки заказов по фильтрам.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if code := q.Get("order_id"); code != "" {
		o, err := h.orders.GetByCode(r.Context(), code)
		if err != nil {
			h.respondServiceError(w, err, "get order")
			return
		}
		respondJSON(w, http.StatusOK, toOrderResponse(o))
		return
	}

	var (
		orders []model.Order
		err    error
	)
	switch {
	case q.Get("user_id") != "":
		orders, err = h.orders.ListByUser(r.Context(), q.Get("user_id"))
	case q.Get("bar_id") != "":
		orders, err = h.orders.ListByBar(r.Context(), q.Get("bar_id"))
	default:
		orders, err = h.orders.List(r.Context())
	}
	if err != nil {
		h.respondServiceError(w, err, "list orders")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

type updateOrderRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус по коду выдачи.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrderID == "" || req.Status == "" {
		respondError(w, http.StatusBadRequest, "order_id and status are required")
		return
	}

	o, err := h.orders.GetByCode(r.Context(), req.OrderID)
	if err != nil {
		h.respondServiceError(w, err, "get order")
		return
	}

	updated, err := h.orders.UpdateStatus(r.Context(), o.ID, model.OrderStatus(req.Status))
	if err != nil {
		h.respondServiceError(w, err, "update order status")
		return
	}

	respondJSON(w, http.StatusOK, toOrderResponse(updated))
}

type validateRequest struct {
	Code string `json:"code"`
}

// ValidateOrder выполняет одноразовое погашение заказа по коду выдачи.
func (h *Handler) ValidateOrder(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	o, err := h.redeemer.Validate(r.Context(), req.Code)
	if err != nil {
		h.respondServiceError(w, err, "validate order")
		return
	}

	metrics.OrdersRedeemed.Inc()
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// Ping отвечает на проверку живости сервиса.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, op string) {
	code := statusFromError(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		respondError(w, code, http.StatusText(code))
		return
	}
	respondError(w, code, err.Error())
}
