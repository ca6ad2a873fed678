package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"necto/internal/repository"
	"necto/internal/routing"
	"necto/internal/state"
	"necto/pkg/job"
)

// SetupRoutes wires the HTTP surface for the routing daemon.
func SetupRoutes(appState *state.State) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// Health check
	r.GET("/health", health(appState))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Routing
		v1.POST("/jobs/route", routeJob(appState))

		// Deployment control
		v1.GET("/deployments/:id/bids", listBids(appState))
		v1.POST("/deployments/:id/bids/:bid/accept", acceptBid(appState))
		v1.DELETE("/deployments/:id", closeDeployment(appState))

		// Provider information
		v1.GET("/providers", listProviders(appState))

		// Attempt history
		v1.GET("/attempts", listAttempts(appState))
		v1.GET("/attempts/:id", getAttempt(appState))
	}

	return r
}

// routeRequest is the request body for POST /v1/jobs/route.
type routeRequest struct {
	Requirement   job.Requirement `json:"requirement"`
	Buyer         string          `json:"buyer,omitempty"`
	PaymentAmount uint64          `json:"paymentAmount,omitempty"`
	Tracked       bool            `json:"tracked,omitempty"`
	AutoAcceptBid bool            `json:"autoAcceptBid"`
	TimeoutMs     int64           `json:"timeoutMs,omitempty"`
}

func routeJob(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req routeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		opts := routing.Options{
			Buyer:         req.Buyer,
			PaymentAmount: req.PaymentAmount,
			Tracked:       req.Tracked,
			AutoAcceptBid: req.AutoAcceptBid,
		}
		if req.TimeoutMs > 0 {
			opts.BidTimeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}

		outcome, err := appState.Engine.RouteJob(c.Request.Context(), &req.Requirement, opts)
		saveOutcome(c, appState, outcome)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "outcome": outcome})
			return
		}

		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	}
}

func listBids(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		bids, err := appState.Engine.Bids(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bids": bids})
	}
}

func acceptBid(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		lease, err := appState.Engine.AcceptBid(c.Request.Context(), c.Param("id"), c.Param("bid"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lease": lease})
	}
}

func closeDeployment(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := appState.Engine.CloseJob(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	}
}

func listProviders(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		providers, err := appState.Marketplace.ListProviders(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"providers": providers})
	}
}

func listAttempts(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appState.Repository == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "attempt store not configured"})
			return
		}
		records, err := appState.Repository.List(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": records})
	}
}

func getAttempt(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appState.Repository == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "attempt store not configured"})
			return
		}
		rec, err := appState.Repository.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempt": rec})
	}
}

func health(appState *state.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{"service": "nectod"}
		status := http.StatusOK

		if err := appState.Marketplace.HealthCheck(c.Request.Context()); err != nil {
			checks["marketplace"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if appState.Ledger != nil {
			if err := appState.Ledger.HealthCheck(c.Request.Context()); err != nil {
				checks["ledger"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if appState.Repository != nil {
			if err := appState.Repository.HealthCheck(c.Request.Context()); err != nil {
				checks["repository"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if appState.Stream != nil {
			if err := appState.Stream.HealthCheck(c.Request.Context()); err != nil {
				checks["stream"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		if status == http.StatusOK {
			checks["status"] = "ok"
		} else {
			checks["status"] = "degraded"
		}
		c.JSON(status, checks)
	}
}

// saveOutcome persists a terminal outcome when a store is configured. A
// persistence failure must not mask the routing result, so it is reported in
// a response header only.
func saveOutcome(c *gin.Context, appState *state.State, outcome *routing.Outcome) {
	if appState.Repository == nil || outcome == nil {
		return
	}

	rec := &repository.Record{
		ID:      uuid.NewString(),
		State:   string(outcome.State),
		Outcome: outcome,
	}
	if outcome.Deployment != nil {
		rec.DeploymentID = outcome.Deployment.ID
	}

	if err := appState.Repository.Save(c.Request.Context(), rec); err != nil {
		c.Header("X-Necto-Store-Error", err.Error())
		return
	}
	c.Header("X-Necto-Attempt-ID", rec.ID)
}

// statusFor maps the routing error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var validationErr *job.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, routing.ErrNoEligibleProviders) {
		return http.StatusConflict
	}
	if errors.Is(err, routing.ErrUnknownDeployment) {
		return http.StatusNotFound
	}
	if errors.Is(err, routing.ErrPaymentsNotConfigured) {
		return http.StatusNotImplemented
	}
	var timeoutErr *routing.BidTimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
