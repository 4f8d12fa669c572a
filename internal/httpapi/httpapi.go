// Package httpapi exposes the service over JSON, file downloads and
// server-sent events.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/metrics"
	"bodega/backend/internal/pos"
	"bodega/backend/internal/service"
	"bodega/backend/internal/store"
)

const requestIDHeader = "X-Request-ID"

type Options struct {
	AllowedOrigin string
	ManagerPIN    string
	Metrics       *metrics.Metrics
	Logger        logrus.FieldLogger
	// Heartbeat is the idle interval between SSE comments. Zero means 15s.
	Heartbeat     time.Duration
}

type API struct {
	service       *service.Service
	session       *pos.Session
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
	allowedOrigin string
	pin           *pinGuard
	heartbeat     time.Duration
}

func New(svc *service.Service, session *pos.Session, opts Options) (*API, error) {
	pin, err := newPINGuard(opts.ManagerPIN, newAttemptLimiter(8, time.Minute))
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	origin := strings.TrimSpace(opts.AllowedOrigin)
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return &API{
		service:       svc,
		session:       session,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		allowedOrigin: origin,
		pin:           pin,
		heartbeat:     opts.Heartbeat,
	}, nil
}

func (a *API) Handler() http.Handler {
	r := gin.New()
	// ClientIP keys the PIN lockout, so forwarded headers are not trusted.
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery())
	r.Use(a.requestID(), a.accessLog(), a.securityHeaders())

	corsConfig := cors.DefaultConfig()
	if a.allowedOrigin == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{a.allowedOrigin}
	}
	corsConfig.AddAllowMethods(http.MethodDelete)
	corsConfig.AddAllowHeaders(ManagerPINHeader, requestIDHeader)
	corsConfig.AddExposeHeaders(requestIDHeader, "Content-Disposition")
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", a.handleHealth)
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.GET("", a.handleListProducts)
		products.POST("", a.handleCreateProduct)
		products.GET("/search", a.handleSearchInventory)
		products.GET("/catalog", a.handleCatalog)
		products.GET("/low-stock", a.handleLowStock)
		products.GET("/expiring", a.handleExpiring)
		products.GET("/barcode/:barcode", a.handleLookupBarcode)
		products.GET("/:id", a.handleGetProduct)
		products.PUT("/:id", a.handleUpdateProduct)
		products.DELETE("/:id", a.handleDeleteProduct)

		categories := v1.Group("/categories")
		categories.GET("", a.handleListCategories)
		categories.POST("", a.handleCreateCategory)
		categories.PUT("/:id", a.handleUpdateCategory)
		categories.DELETE("/:id", a.handleDeleteCategory)

		sales := v1.Group("/sales")
		sales.GET("", a.handleListSales)
		sales.POST("", a.handleCommitSale)
		sales.GET("/:id", a.handleGetSale)
		sales.DELETE("/:id", a.handleDeleteSale)

		cart := v1.Group("/cart")
		cart.GET("", a.handleCartView)
		cart.DELETE("", a.handleCartClear)
		cart.POST("/lines", a.handleCartAdd)
		cart.PUT("/lines/:productId", a.handleCartSetQuantity)
		cart.DELETE("/lines/:productId", a.handleCartRemove)
		cart.POST("/checkout", a.handleCartCheckout)

		v1.GET("/reports/trailing", a.handleTrailingReport)
		v1.GET("/dashboard", a.handleDashboard)

		v1.GET("/settings/theme", a.handleGetTheme)
		v1.PUT("/settings/theme", a.handleSetTheme)

		v1.GET("/backup", a.handleBackupDownload)
		v1.POST("/backup/restore", a.requirePIN(), a.handleBackupRestore)
		v1.POST("/backup/snapshot", a.handleBackupSnapshot)

		v1.GET("/feeds/:topic", a.handleFeed)
	}
	return r
}

func (a *API) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()

		status := c.Writer.Status()
		a.metrics.HTTPRequest(c.Request.Method, c.FullPath(), status)
		entry := a.log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   time.Since(startedAt).String(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")

		method := c.Request.Method
		if (method == http.MethodPost || method == http.MethodPut) && strings.Contains(strings.ToLower(c.GetHeader("Content-Type")), "application/json") {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		}
		c.Next()
	}
}

func (a *API) requirePIN() gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, err := a.pin.check(c.ClientIP(), c.GetHeader(ManagerPINHeader)); err != nil {
			a.log.WithField("client", c.ClientIP()).Warn("manager PIN rejected")
			writeError(c, status, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func decodeJSON(c *gin.Context, dest any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.NewValidationError("", "malformed request body: "+err.Error())
	}
	return nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

// queryInt returns fallback when the parameter is absent and an error when it
// is present but not a number.
func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

func statusFor(err error) int {
	var (
		verr  *domain.ValidationError
		nferr *domain.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nferr), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrStockConflict),
		errors.Is(err, store.ErrProductReferenced),
		errors.Is(err, store.ErrDuplicateBarcode):
		return http.StatusConflict
	case errors.Is(err, store.ErrClosed),
		errors.Is(err, service.ErrUnavailable),
		errors.Is(err, errors.ErrUnsupported):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail answers with the status the error maps to.
func (a *API) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("request_id", c.GetString("request_id")).Error("internal error")
	}
	writeError(c, status, err)
}

func writeError(c *gin.Context, status int, err error) {
	// 5xx bodies never carry driver or filesystem details.
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(c, status, gin.H{"error": msg})
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
