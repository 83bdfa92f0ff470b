package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"points_engine/internal/catalog"
	"points_engine/internal/config"
	"points_engine/internal/directory"
	"points_engine/internal/lock"
	"points_engine/internal/model"
	"points_engine/internal/pending"
	"points_engine/internal/reconcile"
	"points_engine/internal/settlement"
	"points_engine/internal/testutil"
	"points_engine/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type server struct {
	engine *gin.Engine
	db     *gorm.DB
	fx     testutil.Fixture
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	fx := testutil.SeedStore(t, db)
	log := logging.Discard()
	locker := lock.NewMemory(2 * time.Second)
	cat := catalog.New(db, time.UTC, log)
	p := settlement.New(db, directory.New(db), cat, pending.NewMemory(time.Now), locker,
		settlement.Options{QRSecret: []byte("router-secret")}, log)

	r := gin.New()
	Setup(r, Deps{
		Processor:  p,
		Reconciler: reconcile.New(db, locker, log),
		Catalog:    cat,
		Config:     config.AppConfig{AdminToken: "admin"},
		Log:        log,
	})
	return &server{engine: r, db: db, fx: fx}
}

func (s *server) do(t *testing.T, method, path, body string, headers ...string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *server) issue(t *testing.T, items string) settlement.Issued {
	t.Helper()
	body := `{"vendor_id":` + itoa(s.fx.Vendor.ID) + `,"store_id":` + itoa(s.fx.Store.ID) + `,"items":` + items + `}`
	status, env := s.do(t, http.MethodPost, "/transactions", body)
	require.Equal(t, http.StatusOK, status, env.Msg)
	var issued settlement.Issued
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	return issued
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestPing(t *testing.T) {
	s := newServer(t)
	status, env := s.do(t, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pong", env.Msg)
}

func TestIssueAndSettleByCode(t *testing.T) {
	s := newServer(t)
	issued := s.issue(t, `[{"product_id":10,"quantity":1,"unit_price":"45"}]`)
	require.Len(t, issued.ShortCode, 6)

	status, env := s.do(t, http.MethodGet, "/transactions/"+issued.ShortCode, "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(env.Data), issued.ReferenceNumber)

	body := `{"code":"` + strings.ToLower(issued.ShortCode) + `","customer_id":` + itoa(s.fx.Customer.ID) + `}`
	status, env = s.do(t, http.MethodPost, "/transactions/code", body)
	require.Equal(t, http.StatusOK, status, env.Msg)
	var res settlement.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.False(t, res.Replayed)
	require.True(t, res.Balance.TotalPoints.Equal(testutil.Dec("4.5")))

	status, env = s.do(t, http.MethodPost, "/transactions/code", body)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.True(t, res.Replayed)

	status, env = s.do(t, http.MethodGet, "/transactions/"+issued.ShortCode, "")
	require.Equal(t, http.StatusGone, status)
	require.Equal(t, "code_invalid_or_expired", env.Kind)

	status, env = s.do(t, http.MethodGet, "/transactions/reference/"+issued.ReferenceNumber, "")
	require.Equal(t, http.StatusOK, status)
	var rows []model.TransactionRecord
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)

	status, _ = s.do(t, http.MethodGet, "/transactions/reference/TXN-NOPE", "")
	require.Equal(t, http.StatusNotFound, status)

	status, env = s.do(t, http.MethodGet, "/points/"+itoa(s.fx.Customer.ID), "")
	require.Equal(t, http.StatusOK, status)
	var balances []model.PointsBalance
	require.NoError(t, json.Unmarshal(env.Data, &balances))
	require.Len(t, balances, 1)
}

func TestSettleScannedOverHTTP(t *testing.T) {
	s := newServer(t)
	issued := s.issue(t, `[{"product_id":10,"quantity":2,"unit_price":"5"}]`)

	body := `{"payload":"` + issued.QRPayload + `","customer_id":` + itoa(s.fx.Customer.ID) + `}`
	status, env := s.do(t, http.MethodPost, "/transactions/scan", body)
	require.Equal(t, http.StatusOK, status, env.Msg)

	status, env = s.do(t, http.MethodPost, "/transactions/scan", `{"payload":"garbage","customer_id":1}`)
	require.Equal(t, http.StatusGone, status)
	require.Equal(t, "code_invalid_or_expired", env.Kind)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	redeem := s.issue(t, `[{"product_id":3,"quantity":1,"unit_price":"0","is_redemption":true,"points_cost":"50"}]`)

	status, env := s.do(t, http.MethodPost, "/transactions/code", `{"code":"`+redeem.ShortCode+`","customer_id":`+itoa(s.fx.Customer.ID)+`}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Insufficient points: need 50.00, have 0.00", env.Msg)
	require.Equal(t, "insufficient_points", env.Kind)

	status, env = s.do(t, http.MethodPost, "/transactions", `{"vendor_id":`+itoa(s.fx.Vendor.ID)+`,"store_id":`+itoa(s.fx.Store.ID)+`,"items":[]}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation", env.Kind)

	status, _ = s.do(t, http.MethodPost, "/transactions", `{"vendor_id":9999,"store_id":`+itoa(s.fx.Store.ID)+`,"items":[{"product_id":1,"quantity":1,"unit_price":"1"}]}`)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/transactions/code", `{"code":"`+redeem.ShortCode+`","customer_id":`+itoa(s.fx.Vendor.ID)+`}`)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/transactions/code", `{"code":"ABC234"}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestCancelOverHTTP(t *testing.T) {
	s := newServer(t)
	issued := s.issue(t, `[{"product_id":1,"quantity":1,"unit_price":"3"}]`)

	status, _ := s.do(t, http.MethodDelete, "/transactions/"+issued.ShortCode, "")
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodDelete, "/transactions/"+issued.ShortCode+"?vendor_id=4242", "")
	require.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodDelete, "/transactions/"+issued.ShortCode+"?vendor_id="+itoa(s.fx.Vendor.ID), "")
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/transactions/"+issued.ShortCode, "")
	require.Equal(t, http.StatusGone, status)
}

func TestSyncRequiresAdminToken(t *testing.T) {
	s := newServer(t)
	testutil.SetBalance(t, s.db, s.fx.Customer.ID, s.fx.Store.ID, "40")
	path := "/points/sync/" + itoa(s.fx.Customer.ID)

	status, env := s.do(t, http.MethodPost, path, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", env.Kind)

	status, env = s.do(t, http.MethodPost, path, "", "X-Admin-Token", "admin")
	require.Equal(t, http.StatusOK, status)
	var reports []reconcile.Report
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	require.Len(t, reports, 1)
	require.True(t, reports[0].Drift)

	status, _ = s.do(t, http.MethodPost, "/points/sync-all", "", "X-Admin-Token", "admin")
	require.Equal(t, http.StatusOK, status)
}

func TestListRewards(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.db.Create(&model.Reward{StoreID: s.fx.Store.ID, Title: "on", RewardType: model.RewardFreeItem, IsActive: true}).Error)
	require.NoError(t, s.db.Create(&model.Reward{StoreID: s.fx.Store.ID, Title: "off", RewardType: model.RewardFreeItem, IsActive: false}).Error)

	status, env := s.do(t, http.MethodGet, "/rewards/store/"+itoa(s.fx.Store.ID)+"?active=true", "")
	require.Equal(t, http.StatusOK, status)
	var rewards []model.Reward
	require.NoError(t, json.Unmarshal(env.Data, &rewards))
	require.Len(t, rewards, 1)
	require.Equal(t, "on", rewards[0].Title)

	status, env = s.do(t, http.MethodGet, "/rewards/store/"+itoa(s.fx.Store.ID), "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &rewards))
	require.Len(t, rewards, 2)

	status, _ = s.do(t, http.MethodGet, "/rewards/store/abc", "")
	require.Equal(t, http.StatusBadRequest, status)
}
