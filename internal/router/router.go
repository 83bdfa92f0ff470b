package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"points_engine/internal/catalog"
	"points_engine/internal/config"
	"points_engine/internal/lock"
	"points_engine/internal/middleware"
	"points_engine/internal/reconcile"
	"points_engine/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
)

// Deps are the services behind the HTTP surface. Redis is optional; without it
// settlement routes are not rate limited.
type Deps struct {
	Processor  *settlement.Processor
	Reconciler *reconcile.Reconciler
	Catalog    *catalog.Catalog
	Redis      rd.Cmdable
	Config     config.AppConfig
	Log        *slog.Logger
}

// Setup registers every HTTP route.
func Setup(r *gin.Engine, d Deps) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := func(c *gin.Context) { c.Next() }
	if d.Redis != nil && d.Config.SettleRateLimit > 0 {
		limit = middleware.RedisRateLimit(d.Redis, "settle", d.Config.SettleRateLimit, d.Config.SettleRateWindow, d.Log)
	}

	tx := r.Group("/transactions")
	tx.POST("", issueTransaction(d.Processor))
	tx.POST("/scan", limit, settleScanned(d.Processor))
	tx.POST("/code", limit, settleByCode(d.Processor))
	tx.GET("/reference/:ref", getReference(d.Processor))
	tx.GET("/:code", previewTransaction(d.Processor))
	tx.DELETE("/:code", cancelTransaction(d.Processor))

	points := r.Group("/points")
	points.GET("/:userId", getBalances(d.Processor))
	points.POST("/sync/:userId", adminOnly(d.Config.AdminToken), syncUser(d.Reconciler))
	points.POST("/sync-all", adminOnly(d.Config.AdminToken), syncAll(d.Reconciler))

	r.GET("/rewards/store/:storeId", listRewards(d.Catalog))
}

// issueTransaction is called by the vendor's till once the cart is final.
func issueTransaction(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settlement.IssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		issued, err := p.Issue(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": issued})
	}
}

func settleScanned(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Payload    string `json:"payload" binding:"required"`
			CustomerID uint   `json:"customer_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := p.SettleScanned(c.Request.Context(), req.Payload, req.CustomerID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

func settleByCode(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code       string `json:"code" binding:"required"`
			CustomerID uint   `json:"customer_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := p.SettleByCode(c.Request.Context(), req.Code, req.CustomerID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

func previewTransaction(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := p.Preview(c.Request.Context(), c.Param("code"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"state":       settlement.StatePending,
			"transaction": tx,
		}})
	}
}

func cancelTransaction(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		vendorID, err := strconv.ParseUint(c.Query("vendor_id"), 10, 32)
		if err != nil || vendorID == 0 {
			badRequest(c, "vendor_id query parameter is required")
			return
		}
		if err := p.Cancel(c.Request.Context(), c.Param("code"), uint(vendorID)); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "cancelled"})
	}
}

func getReference(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := p.Records(c.Request.Context(), c.Param("ref"))
		if err != nil {
			fail(c, err)
			return
		}
		if len(rows) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "reference not found", "kind": "not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rows})
	}
}

func getBalances(p *settlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathID(c, "userId")
		if !ok {
			return
		}
		balances, err := p.Balances(c.Request.Context(), userID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": balances})
	}
}

func syncUser(r *reconcile.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathID(c, "userId")
		if !ok {
			return
		}
		reports, err := r.ReconcileUser(c.Request.Context(), userID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": reports})
	}
}

func syncAll(r *reconcile.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		reports, err := r.ReconcileAll(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": reports})
	}
}

func listRewards(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID, ok := pathID(c, "storeId")
		if !ok {
			return
		}
		activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
		rewards, err := cat.ListByStore(c.Request.Context(), storeID, activeOnly)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rewards})
	}
}

// adminOnly guards maintenance endpoints with a static token.
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "invalid admin token", "kind": "unauthorized"})
			return
		}
		c.Next()
	}
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg, "kind": "validation"})
}

// fail maps a service error onto the response envelope.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	var ipe *settlement.InsufficientPointsError
	switch {
	case errors.As(err, &ipe):
		msg = ipe.Error()
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	kind := settlement.Outcome(err)
	if errors.Is(err, lock.ErrTimeout) {
		kind = "busy"
	}
	c.JSON(status, gin.H{"code": status, "msg": msg, "kind": kind})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, settlement.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrCustomerNotFound),
		errors.Is(err, settlement.ErrVendorNotFound),
		errors.Is(err, settlement.ErrStoreNotFound),
		errors.Is(err, settlement.ErrRewardNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrNotACustomer),
		errors.Is(err, settlement.ErrNotAVendor),
		errors.Is(err, settlement.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrCodeInvalidOrExpired):
		return http.StatusGone
	case errors.Is(err, settlement.ErrInsufficientPoints),
		errors.Is(err, settlement.ErrStoreInactive),
		errors.Is(err, settlement.ErrRewardUnavailable):
		return http.StatusConflict
	case errors.Is(err, lock.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
