// Package httpapi exposes the donation service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/config"
	"github.com/cypherpunk-tipjar/tipjar/internal/donation"
	"github.com/cypherpunk-tipjar/tipjar/internal/metrics"
	"github.com/cypherpunk-tipjar/tipjar/internal/mpc"
)

// Service is the part of donation.Service the handlers call.
type Service interface {
	Verify(ctx context.Context, req donation.Request) (donation.Result, error)
	Status(ctx context.Context, commitmentHex, txSig string) (donation.Status, error)
	InitCompDef(ctx context.Context) (mpc.InitResult, error)
}

type Options struct {
	CallbackMode    config.CallbackMode
	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty trusts none.
	TrustedProxies []string
	// ExplorerURL links a transaction signature; nil omits explorer links.
	ExplorerURL func(sig string) string
}

// OptionsFromConfig copies the HTTP settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		CallbackMode:    cfg.CallbackMode,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		TrustedProxies:  cfg.TrustedProxies,
		ExplorerURL:     cfg.ExplorerURL,
	}
}

type handlers struct {
	svc  Service
	opts Options
	log  logrus.FieldLogger
}

// NewRouter builds the engine. Routes are served at the root and again under
// /arcium, the prefix the web client uses.
func NewRouter(svc Service, opts Options, log logrus.FieldLogger) *gin.Engine {
	registerTagNames()

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		log.WithError(err).Warn("invalid trusted proxies; forwarding headers ignored")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(recovery(log))
	r.Use(requestID(), accessLog(log))
	r.Use(cors(opts.AllowedOrigins))

	h := &handlers{svc: svc, opts: opts, log: log}
	limiter := NewRateLimiter(opts.RateLimitMax, opts.RateLimitWindow, log)

	for _, prefix := range []string{"/", "/arcium"} {
		g := r.Group(prefix)
		g.POST("/verify", limiter.Middleware(), h.verify)
		g.POST("/init-comp-def", h.initCompDef)
		g.GET("/status", h.status)
		g.GET("/health", h.health)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}
