// Package server exposes the browser bridge and the status API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/genricoloni/tabcast/internal/bridge"
	"github.com/genricoloni/tabcast/internal/channel"
	"github.com/genricoloni/tabcast/internal/selector"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BrowserEndpoint is the websocket endpoint of the extension shim
type BrowserEndpoint interface {
	http.Handler
	Info() bridge.Info
}

// SelectionSource reports the selector state
type SelectionSource interface {
	Status() selector.Status
}

// DisplaySource reports the display connection
type DisplaySource interface {
	State() channel.State
	URL() string
}

// DisplayStatus describes the connection to the display server
type DisplayStatus struct {
	State string `json:"state" doc:"Connection state" enum:"disconnected,connecting,connected,closing"`
	URL   string `json:"url" doc:"Display server URL"`
}

// StatusBody is the response of the status endpoint
type StatusBody struct {
	Display   DisplayStatus   `json:"display"`
	Browser   bridge.Info     `json:"browser"`
	Selection selector.Status `json:"selection"`
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

type statusOutput struct {
	Body StatusBody
}

// NewHandler builds the router: the bridge websocket plus the huma status API
func NewHandler(logger *zap.Logger, browser BrowserEndpoint, selection SelectionSource, display DisplaySource) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Handle(bridge.Path, browser)

	api := humachi.New(router, huma.DefaultConfig("tabcast", "1.0.0"))

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Current session and connection state", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			out := &statusOutput{}
			out.Body = StatusBody{
				Display: DisplayStatus{
					State: display.State().String(),
					URL:   display.URL(),
				},
				Browser:   browser.Info(),
				Selection: selection.Status(),
			}
			return out, nil
		})

	return router
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("requestId", middleware.GetReqID(r.Context())))
		})
	}
}
