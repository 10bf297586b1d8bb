package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/service"
	"treasury/internal/testutil"
	"treasury/pkg/idgen"
	"treasury/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type env struct {
	db     *gorm.DB
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	ids, err := idgen.New(1)
	require.NoError(t, err)
	clock := testutil.NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	svc := service.New(service.Deps{DB: db, Config: config.Default(), IDs: ids, Now: clock.Now})
	return &env{db: db, router: SetupRouter(svc, prometheus.NewRegistry())}
}

func (e *env) do(t *testing.T, method, path string, actor *model.Account, role string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderAccountID, strconv.FormatInt(actor.ID, 10))
		req.Header.Set(HeaderRole, role)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response.Response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestHealthAndMissingActor(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodGet, "/health", nil, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := e.do(t, http.MethodGet, "/api/v1/accounts/1/balance", nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, resp.Code)
}

func TestUnknownRoleRejected(t *testing.T) {
	e := newEnv(t)
	a := testutil.SeedAccount(t, e.db, &model.Account{})

	w, _ := e.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(a.ID, 10)+"/balance", a, "superuser", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendPaymentOverHTTP(t *testing.T) {
	e := newEnv(t)
	a := testutil.SeedAccount(t, e.db, &model.Account{TokenBalance: testutil.Dec("5000")})
	b := testutil.SeedAccount(t, e.db, &model.Account{TokenBalance: testutil.Dec("5000")})

	w, resp := e.do(t, http.MethodPost, "/api/v1/payments", a, "treasurer", gin.H{
		"from_id":   a.ID,
		"to_id":     b.ID,
		"amount":    "1000",
		"lock_days": 30,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, response.CodeSuccess, resp.Code)

	assert.True(t, testutil.Reload(t, e.db, a.ID).TokenBalance.Equal(testutil.Dec("4000")))
	got := testutil.Reload(t, e.db, b.ID)
	assert.True(t, got.TokenBalance.Equal(testutil.Dec("6000")))
	assert.True(t, got.FrozenAmount.Equal(testutil.Dec("1000")))

	// 收款方查看自己的余额：可用部分不含锁定款
	w, resp = e.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(b.ID, 10)+"/balance", b, "member", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "5000", data["available"])
	assert.Equal(t, "1000", data["locked"])
}

func TestSendPaymentErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)
	a := testutil.SeedAccount(t, e.db, &model.Account{TokenBalance: testutil.Dec("100")})
	b := testutil.SeedAccount(t, e.db, &model.Account{})

	w, resp := e.do(t, http.MethodPost, "/api/v1/payments", a, "treasurer", gin.H{
		"from_id": a.ID, "to_id": a.ID, "amount": "10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeSelfPayment, resp.Code)

	w, resp = e.do(t, http.MethodPost, "/api/v1/payments", a, "treasurer", gin.H{
		"from_id": a.ID, "to_id": b.ID, "amount": "500",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.CodeInsufficientFunds, resp.Code)

	// 不能替其他账户付款
	w, _ = e.do(t, http.MethodPost, "/api/v1/payments", b, "treasurer", gin.H{
		"from_id": a.ID, "to_id": b.ID, "amount": "10",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/payments", a, "treasurer", gin.H{"to_id": b.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBalanceReadAccess(t *testing.T) {
	e := newEnv(t)
	parent := testutil.SeedAccount(t, e.db, &model.Account{IsEnterprise: true})
	child := testutil.SeedAccount(t, e.db, &model.Account{ParentAccountID: &parent.ID})
	outsider := testutil.SeedAccount(t, e.db, &model.Account{})
	path := "/api/v1/accounts/" + strconv.FormatInt(child.ID, 10) + "/balance"

	w, _ := e.do(t, http.MethodGet, path, outsider, "enterprise_admin", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodGet, path, parent, "finance_manager", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, path, outsider, "system_admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/v1/accounts/999999/balance", outsider, "system_admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAccountRequiresSystemAdmin(t *testing.T) {
	e := newEnv(t)
	admin := testutil.SeedAccount(t, e.db, &model.Account{})
	body := gin.H{"name": "Acme", "email": "acme@example.com", "role": "enterprise_admin", "is_enterprise": true}

	w, _ := e.do(t, http.MethodPost, "/api/v1/accounts", admin, "enterprise_admin", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := e.do(t, http.MethodPost, "/api/v1/accounts", admin, "system_admin", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, model.KYCStatusPending, data["kyc_status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
