// Package httpapp exposes the provisioning orchestrator over HTTP.
package httpapp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/audit"
	"github.com/open-sspm/egress-provisioner/internal/auth"
	"github.com/open-sspm/egress-provisioner/internal/provision"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Provisioner runs one provisioning call.
type Provisioner interface {
	Provision(ctx context.Context, req provision.Request) (provision.Result, error)
}

// SecretResolver turns named secret references into values.
type SecretResolver interface {
	ResolveAll(ctx context.Context, refs map[string]string) (map[string]provision.Value, error)
}

// RunLister lists recorded provisioning runs.
type RunLister interface {
	ListRuns(ctx context.Context, opts audit.ListOptions) ([]audit.Record, error)
}

type Options struct {
	Provisioner   Provisioner
	Secrets       SecretResolver
	Runs          RunLister
	Authenticator *auth.TokenAuthenticator
	// Timeout bounds a single provisioning call. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	e    *echo.Echo
	opts Options
}

func NewEchoServer(opts Options) (*EchoServer, error) {
	if opts.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := echo.New()
	e.Logger = opts.Logger
	es := &EchoServer{e: e, opts: opts}
	e.HTTPErrorHandler = es.httpErrorHandler
	es.registerRoutes()
	return es, nil
}

func (es *EchoServer) registerRoutes() {
	es.e.Use(requestID)
	es.e.GET("/healthz", es.handleHealthz)

	api := es.e.Group("/api/v1")
	api.Use(requireToken(es.opts.Authenticator))
	api.POST("/connections/provision", es.handleProvision)
	if es.opts.Runs != nil {
		api.GET("/runs", es.handleListRuns)
	}
}

// Handler returns the router as an http.Handler.
func (es *EchoServer) Handler() http.Handler {
	return es.e
}

// Serve listens on addr until ctx is done.
func (es *EchoServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return es.serveListener(ctx, ln)
}

func (es *EchoServer) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           es.e,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		es.opts.Logger.Info("http listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (es *EchoServer) handleHealthz(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
