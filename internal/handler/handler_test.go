package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/barpay-system/internal/order"
	"github.com/mmeshcher/barpay-system/internal/redemption"
	"github.com/mmeshcher/barpay-system/internal/storage"
	"github.com/mmeshcher/barpay-system/internal/user"
	"github.com/mmeshcher/barpay-system/internal/wallet"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := storage.NewMemoryStore()
	walletSvc := wallet.NewService(store)
	userSvc := user.NewService(store)
	orderSvc := order.NewService(store, walletSvc, nil)
	validator := redemption.NewValidator(store)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	h := NewHandler(userSvc, walletSvc, orderSvc, validator, logger)
	ts := httptest.NewServer(h.SetupRouter())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, buf.Bytes()
}

func createTestUser(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"name":     "João Silva",
		"email":    fmt.Sprintf("joao+%s@exemplo.com", t.Name()),
		"password": "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var u struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &u))
	return u.ID
}

func topUp(t *testing.T, ts *httptest.Server, userID string, amount float64) {
	t.Helper()

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/users/"+userID+"/balance", map[string]any{
		"amount":    amount,
		"operation": "add",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestCreateUser(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"name":     "João Silva",
		"email":    "joao@exemplo.com",
		"password": "123456",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var u map[string]any
	require.NoError(t, json.Unmarshal(body, &u))
	assert.NotEmpty(t, u["id"])
	assert.Equal(t, "joao@exemplo.com", u["email"])
	assert.Equal(t, float64(0), u["balance"])

	// Пароль никогда не попадает в ответ.
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), "123456")
}

func TestCreateUser_MissingFields(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"name": "João",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)

	payload := map[string]string{"name": "João", "email": "dup@exemplo.com", "password": "123456"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/users", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/users", payload)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetUsers(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/users?id="+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "password")

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/users?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/users", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var all []map[string]any
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 1)
}

func TestUpdateUser(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/users", map[string]string{
		"id":   id,
		"name": "João da Silva",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "João da Silva")

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/users", map[string]string{
		"name": "Sem ID",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/users", map[string]string{
		"name": "João", "email": "joao@exemplo.com", "password": "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/users/login", map[string]string{
		"email": "joao@exemplo.com", "password": "123456",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "password")

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/users/login", map[string]string{
		"email": "joao@exemplo.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/users/login", map[string]string{
		"email": "joao@exemplo.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdjustBalance(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/users/"+id+"/balance", map[string]any{
		"amount": 100.0, "operation": "add",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var br struct {
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &br))
	assert.Equal(t, 100.0, br.Balance)

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/users/"+id+"/balance", map[string]any{
		"amount": 150.0, "operation": "subtract",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "insufficient funds")

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/users/"+id+"/balance", map[string]any{
		"amount": -5.0, "operation": "add",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/users/"+id+"/balance", map[string]any{
		"amount": 5.0, "operation": "double",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/users/missing/balance", map[string]any{
		"amount": 5.0, "operation": "add",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func orderPayload(userID string) map[string]any {
	return map[string]any{
		"user_id": userID,
		"bar_id":  "bar-1",
		"items": []map[string]any{
			{"product_id": "p1", "name": "Cerveja Lata", "price": 8.00, "quantity": 2},
			{"product_id": "p2", "name": "Água", "price": 3.00, "quantity": 1},
		},
		"total":          19.00,
		"payment_method": "balance",
	}
}

func TestCreateOrder_BalancePayment(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)
	topUp(t, ts, id, 100.0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", orderPayload(id))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var o map[string]any
	require.NoError(t, json.Unmarshal(body, &o))
	assert.Equal(t, "paid", o["status"])
	assert.Equal(t, 19.00, o["total"])
	assert.True(t, strings.HasPrefix(o["order_id"].(string), "ORD-"))

	// Баланс списан.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/users?id="+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u struct {
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &u))
	assert.Equal(t, 81.0, u.Balance)
}

func TestCreateOrder_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)
	topUp(t, ts, id, 100.0)

	p := orderPayload(id)
	delete(p, "items")
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders", p)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	p = orderPayload(id)
	p["total"] = 25.00
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", p)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "total")

	p = orderPayload(id)
	p["payment_method"] = "cash"
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/orders", p)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrders(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)
	topUp(t, ts, id, 100.0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", orderPayload(id))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	code := created["order_id"].(string)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/orders?order_id="+code, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/orders?order_id=ORD-MISSING", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/orders?user_id="+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/orders?bar_id=bar-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
}

func TestUpdateOrderStatus(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)
	topUp(t, ts, id, 100.0)

	p := orderPayload(id)
	p["payment_method"] = "pix"
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	code := created["order_id"].(string)

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/orders", map[string]string{
		"order_id": code, "status": "paid",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"paid"`)

	// Движение назад отклоняется.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/orders", map[string]string{
		"order_id": code, "status": "pending",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/orders", map[string]string{
		"order_id": code,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/orders", map[string]string{
		"order_id": "ORD-MISSING", "status": "paid",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateOrder_ExactlyOnce(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)
	topUp(t, ts, id, 100.0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", orderPayload(id))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	code := created["order_id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/orders/validate", map[string]string{"code": code})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"validated"`)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/orders/validate", map[string]string{"code": code})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "already redeemed")
}

func TestValidateOrder_NotYetPaid(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)

	p := orderPayload(id)
	p["payment_method"] = "pix"
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	code := created["order_id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/orders/validate", map[string]string{"code": code})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, string(body), "not paid")
}

func TestValidateOrder_UnknownCode(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders/validate", map[string]string{"code": "ORD-MISSING"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/ping", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "barpay_http_request_duration_seconds")
}

func TestMetricsEndpoint_CountsWalletFailures(t *testing.T) {
	ts := newTestServer(t)
	id := createTestUser(t, ts)

	// Списание с пустого баланса: операция должна попасть в счётчик ошибок.
	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/users/"+id+"/balance", map[string]any{
		"amount": 50.0, "operation": "subtract",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body),
		`barpay_wallet_operations_total{operation="subtract",result="error"}`)
}
