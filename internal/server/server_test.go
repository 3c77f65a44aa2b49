package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	auditrepository "github.com/smallbiznis/tableside/internal/audit/repository"
	auditservice "github.com/smallbiznis/tableside/internal/audit/service"
	"github.com/smallbiznis/tableside/internal/auth/token"
	"github.com/smallbiznis/tableside/internal/authorization"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/migration"
	"github.com/smallbiznis/tableside/internal/notification"
	"github.com/smallbiznis/tableside/internal/observability"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	orderrepository "github.com/smallbiznis/tableside/internal/order/repository"
	orderservice "github.com/smallbiznis/tableside/internal/order/service"
	"github.com/smallbiznis/tableside/internal/push"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	pushrepository "github.com/smallbiznis/tableside/internal/push/repository"
	pushservice "github.com/smallbiznis/tableside/internal/push/service"
	"github.com/smallbiznis/tableside/internal/realtime"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testRestaurant = snowflake.ID(42)

func init() {
	gin.SetMode(gin.TestMode)
}

type capturingProvider struct {
	mu   sync.Mutex
	sent []pushdomain.Notification
}

func (p *capturingProvider) Name() string { return "capture" }

func (p *capturingProvider) Send(ctx context.Context, token string, n pushdomain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *capturingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type apiFixture struct {
	server   *httptest.Server
	verifier *token.Verifier
	provider *capturingProvider
	registry *realtime.Registry
}

func setupAPI(t *testing.T) apiFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.ApplySchema(context.Background(), db))

	log := zap.NewNop()
	cfg := config.Config{
		AuthJWTSecret:  "api-test-secret",
		AuthJWTIssuer:  "tableside",
		AllowedOrigins: []string{"*"},
		Push:           config.PushConfig{DefaultSound: "default", NotificationTTL: 60},
	}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide()})
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc})

	registry := realtime.NewRegistry(log)
	bus := realtime.NewBus(realtime.BusParams{Log: log, Registry: registry})
	gateway := realtime.NewGateway(realtime.GatewayParams{Log: log, Config: cfg, Registry: registry, Bus: bus})

	provider := &capturingProvider{}
	pushRepo := pushrepository.Provide()
	dispatcher := push.NewDispatcher(push.DispatcherParams{DB: db, Log: log, Config: cfg, Repo: pushRepo, Provider: provider})
	devices := pushservice.New(pushservice.Params{DB: db, Log: log, GenID: node, Repo: pushRepo, Authz: authz, AuditSvc: auditSvc})

	router := notification.NewRouter(notification.RouterParams{Log: log, Bus: bus, Pusher: dispatcher})
	router.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = router.Stop(ctx)
	})

	orders := orderservice.NewService(orderservice.ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     orderrepository.Provide(),
		Authz:    authz,
		AuditSvc: auditSvc,
		Notifier: router,
	})

	verifier, err := token.NewVerifier(cfg, nil)
	require.NoError(t, err)

	engine := NewEngine(observability.Config{Environment: "test"}, cfg, nil)
	s := NewServer(ServerParams{
		Engine:    engine,
		Config:    cfg,
		Log:       log,
		Verifier:  verifier,
		Authz:     authz,
		AuditSvc:  auditSvc,
		OrderSvc:  orders,
		DeviceSvc: devices,
		Gateway:   gateway,
	})
	s.RegisterRoutes()

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return apiFixture{server: srv, verifier: verifier, provider: provider, registry: registry}
}

func (f apiFixture) tokenFor(t *testing.T, role restaurantctx.Role, userID string) string {
	t.Helper()
	raw, err := f.verifier.Issue(token.Identity{
		RestaurantID: testRestaurant,
		Actor:        restaurantctx.Actor{UserID: userID, Role: role},
	}, time.Hour)
	require.NoError(t, err)
	return raw
}

type apiResponse struct {
	Status int
	Body   map[string]json.RawMessage
}

func (r apiResponse) order(t *testing.T) orderdomain.Order {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, json.Unmarshal(r.Body["data"], &order))
	return order
}

func (r apiResponse) errorPayload(t *testing.T) errorPayload {
	t.Helper()
	var payload errorPayload
	require.NoError(t, json.Unmarshal(r.Body["error"], &payload))
	return payload
}

func (f apiFixture) call(t *testing.T, bearer, method, path string, body any) apiResponse {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{Status: resp.StatusCode, Body: map[string]json.RawMessage{}}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	}
	return out
}

func (f apiFixture) dial(t *testing.T, bearer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws?access_token=" + bearer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitEvent reads frames until one carries event, skipping control replies
// and unrelated broadcasts.
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) realtime.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg realtime.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func basket() orderdomain.CreateOrderRequest {
	return orderdomain.CreateOrderRequest{Items: []orderdomain.CreateOrderItemRequest{
		{MenuItemID: "m-1", Name: "Nasi Goreng", UnitPrice: 25000, Quantity: 2},
		{MenuItemID: "m-2", Name: "Es Teh", UnitPrice: 5000, Quantity: 1},
	}}
}

func TestOrderApprovalReachesSocketsAndDevices(t *testing.T) {
	f := setupAPI(t)
	customer := f.tokenFor(t, restaurantctx.RoleCustomer, "u1")
	cashier := f.tokenFor(t, restaurantctx.RoleCashier, "cashier-1")
	kitchen := f.tokenFor(t, restaurantctx.RoleKitchen, "kitchen-1")

	resp := f.call(t, customer, http.MethodPost, "/api/v1/devices", pushdomain.RegisterTokenRequest{Token: "T1", Platform: "android"})
	require.Equal(t, http.StatusCreated, resp.Status)

	cashierConn := f.dial(t, cashier)
	kitchenConn := f.dial(t, kitchen)
	customerConn := f.dial(t, customer)
	require.Eventually(t, func() bool { return f.registry.SessionCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	resp = f.call(t, customer, http.MethodPost, "/api/v1/orders", basket())
	require.Equal(t, http.StatusCreated, resp.Status)
	created := resp.order(t)
	assert.Equal(t, orderdomain.StatusAwaitingApproval, created.Status)
	assert.Equal(t, int64(55000), created.TotalAmount)
	assert.Equal(t, 3, created.ItemCount)

	request := awaitEvent(t, cashierConn, realtime.EventOrderApprovalRequest)
	assert.False(t, request.Timestamp.IsZero())

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+created.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, orderdomain.StatusPending, resp.order(t).Status)

	awaitEvent(t, kitchenConn, realtime.EventNewOrder)
	awaitEvent(t, customerConn, realtime.EventOrderAccepted)
	awaitEvent(t, cashierConn, realtime.EventOrderApproved)
	assert.Eventually(t, func() bool { return f.provider.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp = f.call(t, kitchen, http.MethodPost, "/api/v1/orders/"+created.ID.String()+"/advance", advanceOrderRequest{Status: "preparing"})
	require.Equal(t, http.StatusOK, resp.Status)
	awaitEvent(t, customerConn, realtime.EventOrderStatusUpdated)

	resp = f.call(t, cashier, http.MethodGet, "/api/v1/orders?status=preparing", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var board []orderdomain.Order
	require.NoError(t, json.Unmarshal(resp.Body["data"], &board))
	require.Len(t, board, 1)
	assert.Equal(t, created.ID, board[0].ID)
}

func TestErrorResponses(t *testing.T) {
	f := setupAPI(t)
	customer := f.tokenFor(t, restaurantctx.RoleCustomer, "u1")
	cashier := f.tokenFor(t, restaurantctx.RoleCashier, "cashier-1")

	resp := f.call(t, "", http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "unauthorized", resp.errorPayload(t).Type)

	resp = f.call(t, customer, http.MethodPost, "/api/v1/orders", orderdomain.CreateOrderRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "empty_order", resp.errorPayload(t).Errors[0].Code)

	resp = f.call(t, customer, http.MethodPost, "/api/v1/orders", basket())
	require.Equal(t, http.StatusCreated, resp.Status)
	id := resp.order(t).ID.String()

	resp = f.call(t, customer, http.MethodPost, "/api/v1/orders/"+id+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = f.call(t, cashier, http.MethodGet, "/api/v1/orders/123456789", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/reject", rejectOrderRequest{Reason: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	payload := resp.errorPayload(t)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "reason_required", payload.Errors[0].Code)
	assert.Equal(t, "reason", payload.Errors[0].Field)

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/pay", orderdomain.PayOrderRequest{Method: "card"})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = f.call(t, customer, http.MethodPost, "/api/v1/orders/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "payment_precondition", resp.errorPayload(t).Type)

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/pay", orderdomain.PayOrderRequest{Method: "card"})
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "already_paid", resp.errorPayload(t).Type)

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/reject", rejectOrderRequest{Reason: "out of stock"})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "terminal_state", resp.errorPayload(t).Type)
}

func TestAuditLogsRequireManager(t *testing.T) {
	f := setupAPI(t)
	customer := f.tokenFor(t, restaurantctx.RoleCustomer, "u1")
	cashier := f.tokenFor(t, restaurantctx.RoleCashier, "cashier-1")
	manager := f.tokenFor(t, restaurantctx.RoleManager, "manager-1")

	resp := f.call(t, customer, http.MethodPost, "/api/v1/orders", basket())
	require.Equal(t, http.StatusCreated, resp.Status)
	id := resp.order(t).ID.String()
	resp = f.call(t, cashier, http.MethodPost, "/api/v1/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	resp = f.call(t, cashier, http.MethodGet, "/api/v1/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = f.call(t, manager, http.MethodGet, "/api/v1/audit-logs?target_id="+id, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body["data"], &logs))
	assert.NotEmpty(t, logs)

	resp = f.call(t, manager, http.MethodGet, "/api/v1/audit-logs?start_at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestDeviceRoutes(t *testing.T) {
	f := setupAPI(t)
	customer := f.tokenFor(t, restaurantctx.RoleCustomer, "u1")

	resp := f.call(t, customer, http.MethodPost, "/api/v1/devices", pushdomain.RegisterTokenRequest{Token: "T1", Platform: "pager"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	for range 2 {
		resp = f.call(t, customer, http.MethodPost, "/api/v1/devices", pushdomain.RegisterTokenRequest{Token: "T1", Platform: "ios"})
		require.Equal(t, http.StatusCreated, resp.Status)
	}
	assert.NotContains(t, string(resp.Body["data"]), "T1")

	resp = f.call(t, customer, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var devices []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body["data"], &devices))
	assert.Len(t, devices, 1)

	resp = f.call(t, customer, http.MethodDelete, "/api/v1/devices/T1", nil)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	resp = f.call(t, customer, http.MethodDelete, "/api/v1/devices/T1", nil)
	assert.Equal(t, http.StatusNoContent, resp.Status)
}

func TestSocketRejectsMissingToken(t *testing.T) {
	f := setupAPI(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := setupAPI(t)
	resp := f.call(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}
