// Package api exposes the state authority over an authenticated REST
// surface, intended for bots and the connection layer.
package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presbrey/ircstate/config"
	"github.com/presbrey/ircstate/core"
	"github.com/presbrey/ircstate/metrics"
)

// API represents the REST API over the state core
type API struct {
	core   *core.Core
	config *config.Config
	echo   *echo.Echo
}

// New creates a new API
func New(c *core.Core, cfg *config.Config) *API {
	a := &API{
		core:   c,
		config: cfg,
		echo:   echo.New(),
	}
	a.echo.HideBanner = true
	a.echo.Validator = newValidator()

	// Set up the HTTP routes
	a.echo.POST("/api/register", a.handleRegister)
	a.echo.POST("/api/join", a.handleJoin)
	a.echo.POST("/api/part", a.handlePart)
	a.echo.POST("/api/message", a.handleMessage)
	a.echo.POST("/api/direct", a.handleDirect)
	a.echo.POST("/api/grant", a.handleGrant)
	a.echo.POST("/api/revoke", a.handleRevoke)
	a.echo.POST("/api/ban", a.handleBan)
	a.echo.POST("/api/ban/revoke", a.handleBanRevoke)
	a.echo.POST("/api/reconnect", a.handleReconnect)
	a.echo.POST("/api/ack", a.handleAck)
	a.echo.GET("/api/bans", a.handleBanList)
	a.echo.GET("/api/events", a.handleEvents)
	a.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return a
}

// Start starts the API server
func (a *API) Start() error {
	return a.echo.Start(a.config.GetAPIListenAddress())
}

// Stop stops the API server
func (a *API) Stop() error {
	log.Println("Stopping API")
	return a.echo.Close()
}

// Handler returns the underlying HTTP handler, used by tests.
func (a *API) Handler() http.Handler {
	return a.echo
}

// customValidator adapts go-playground/validator to the echo.Validator
// interface, reporting errors under JSON field names.
type customValidator struct {
	validator *validator.Validate
}

func newValidator() *customValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &customValidator{validator: v}
}

func (cv *customValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// authenticateRequest authenticates a request using the bearer token
func (a *API) authenticateRequest(req *http.Request) bool {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	for _, validToken := range a.config.API.BearerTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(validToken)) == 1 {
			return true
		}
	}
	return false
}

// httpError maps a core error onto the matching HTTP status
func httpError(err error) error {
	switch core.ErrCode(err) {
	case core.CodeNotFound, core.CodeNotMember:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case core.CodeAliasTaken, core.CodeAlreadyExists, core.CodeStoreConflict:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case core.CodeForbidden, core.CodeBanned, core.CodeInsufficientPrivilege:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case core.CodeStoreUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
