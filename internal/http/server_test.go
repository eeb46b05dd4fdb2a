package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/audit"
	"github.com/open-sspm/egress-provisioner/internal/auth"
	"github.com/open-sspm/egress-provisioner/internal/provision"
	"github.com/open-sspm/egress-provisioner/internal/secretref"
)

const testToken = "test-token-0123456789abcdefghij"

var (
	testHashOnce sync.Once
	testHash     string
)

func tokenHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := auth.HashToken(testToken)
		if err != nil {
			panic(err)
		}
		testHash = h
	})
	return testHash
}

type fakeProvisioner struct {
	mu   sync.Mutex
	reqs []provision.Request
	res  provision.Result
	err  error
}

func (f *fakeProvisioner) Provision(ctx context.Context, req provision.Request) (provision.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return provision.Result{}, f.err
	}
	return f.res, nil
}

type fakeResolver struct {
	values map[string]string
}

func (r fakeResolver) ResolveAll(_ context.Context, refs map[string]string) (map[string]provision.Value, error) {
	out := make(map[string]provision.Value, len(refs))
	for name, ref := range refs {
		v, ok := r.values[ref]
		if !ok {
			return nil, fmt.Errorf("resolve secret %q: %w", name, secretref.ErrNotFound)
		}
		out[name] = provision.ScalarValue(v)
	}
	return out, nil
}

type fakeRuns struct {
	records []audit.Record
	opts    audit.ListOptions
}

func (f *fakeRuns) ListRuns(_ context.Context, opts audit.ListOptions) ([]audit.Record, error) {
	f.opts = opts
	return f.records, nil
}

func newTestServer(t *testing.T, p Provisioner, mutate func(*Options)) *EchoServer {
	t.Helper()
	a, err := auth.NewTokenAuthenticator(tokenHash(t))
	if err != nil {
		t.Fatalf("NewTokenAuthenticator() error = %v", err)
	}
	opts := Options{
		Provisioner:   p,
		Secrets:       fakeResolver{values: map[string]string{"vault:secret/data/mssql#password": "hunter2"}},
		Authenticator: a,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	es, err := NewEchoServer(opts)
	if err != nil {
		t.Fatalf("NewEchoServer() error = %v", err)
	}
	return es
}

const mssqlBody = `{
	"plugin_fqn": "MONITORIAL__MSSQL",
	"name": "Production MSSQL",
	"slug": "mssql",
	"connectivity": "privatelink",
	"method": "SQL Server Authentication",
	"parameters": {"username": "sa", "server_host": "db.internal", "server_port": 1433},
	"secret_refs": {"password": "vault:secret/data/mssql#password"},
	"other_environments_exist": false,
	"is_production_environment": true
}`

func doProvision(t *testing.T, es *EchoServer, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections/provision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProvisionSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeProvisioner{res: provision.Result{
		Status:       provision.SuccessMarker,
		Path:         provision.PathCreate,
		Integration:  "MSSQL_EAI",
		Confirmation: json.RawMessage(`{"connection_id":"conn-42"}`),
	}}
	es := newTestServer(t, fake, nil)

	rec := doProvision(t, es, mssqlBody, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp provisionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.Status != "SUCCESS" || resp.Path != "create" {
		t.Fatalf("response = %#v", resp)
	}
	if resp.RequestID == "" || rec.Header().Get("X-Request-ID") != resp.RequestID {
		t.Fatalf("request id = %q header=%q", resp.RequestID, rec.Header().Get("X-Request-ID"))
	}

	if len(fake.reqs) != 1 {
		t.Fatalf("provision calls = %d", len(fake.reqs))
	}
	got := fake.reqs[0]
	if got.Connectivity != provision.ConnectivityPrivateLink || !got.IsProductionEnvironment || got.OtherEnvironmentsExist {
		t.Fatalf("request = %#v", got)
	}
	if got.Parameters["server_port"].Scalar() != "1433" {
		t.Fatalf("server_port = %#v", got.Parameters["server_port"])
	}
	if got.Secrets["password"].Scalar() != "hunter2" {
		t.Fatal("secret reference was not resolved")
	}
}

func TestProvisionPassesAttributedSecretsThrough(t *testing.T) {
	t.Parallel()

	fake := &fakeProvisioner{res: provision.Result{Status: provision.SuccessMarker, Path: provision.PathCreate}}
	es := newTestServer(t, fake, nil)

	body := `{"plugin_fqn": "P", "name": "n", "slug": "s", "connectivity": "direct", "method": "m",
		"secrets": {"ssh_key": {"ref": "prod-key"}}}`
	rec := doProvision(t, es, body, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(fake.reqs) != 1 {
		t.Fatalf("provision calls = %d", len(fake.reqs))
	}
	got := fake.reqs[0].Secrets["ssh_key"]
	if !got.IsAttributed() {
		t.Fatalf("ssh_key = %#v, want attributed", got)
	}
	if !reflect.DeepEqual(got.Attributed(), map[string]any{"ref": "prod-key"}) {
		t.Fatalf("ssh_key = %#v", got.Attributed())
	}
}

func TestProvisionErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "invalid",
			err:      fmt.Errorf("%w: connectivity option \"ngrok\" is not supported", provision.ErrInvalidRequest),
			wantCode: http.StatusBadRequest,
			wantBody: codeInvalidRequest,
		},
		{
			name:     "not found",
			err:      &provision.StepError{Kind: provision.KindNotFound, Step: provision.StepResolvePlugin, Message: "plugin X not found"},
			wantCode: http.StatusNotFound,
			wantBody: "plugin X not found",
		},
		{
			name:     "lifecycle",
			err:      &provision.StepError{Kind: provision.KindLifecycleRejected, Step: provision.StepBeginLifecycle, Message: "slug in use"},
			wantCode: http.StatusConflict,
			wantBody: codeLifecycleRejected,
		},
		{
			name:     "address",
			err:      &provision.StepError{Kind: provision.KindAddressResolution, Step: provision.StepResolveAddresses, Message: "bad host"},
			wantCode: http.StatusUnprocessableEntity,
			wantBody: "resolve_addresses",
		},
		{
			name:     "provisioning",
			err:      &provision.StepError{Kind: provision.KindProvisioning, Step: provision.StepGrantUsage, Message: "denied"},
			wantCode: http.StatusBadGateway,
			wantBody: codeProvisioningFailure,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantCode: http.StatusGatewayTimeout,
			wantBody: codeTimeout,
		},
		{
			name:     "client gone",
			err:      fmt.Errorf("begin edit: %w", context.Canceled),
			wantCode: statusClientClosedRequest,
			wantBody: codeClientClosedRequest,
		},
		{
			name:     "internal",
			err:      errors.New("very sensitive error"),
			wantCode: http.StatusInternalServerError,
			wantBody: InternalErrorCode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			es := newTestServer(t, &fakeProvisioner{err: tt.err}, nil)
			rec := doProvision(t, es, mssqlBody, testToken)
			if rec.Code != tt.wantCode {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body %q missing %q", rec.Body.String(), tt.wantBody)
			}
			if strings.Contains(rec.Body.String(), "very sensitive") {
				t.Fatalf("response leaked error details: %q", rec.Body.String())
			}
		})
	}
}

func TestProvisionRejectsBadBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: codeInvalidRequest},
		{name: "malformed", body: "{", want: codeInvalidRequest},
		{name: "unknown field", body: `{"plugin": "x"}`, want: codeInvalidRequest},
		{name: "trailing data", body: `{} {}`, want: codeInvalidRequest},
		{name: "unresolvable ref", body: `{"secret_refs": {"password": "vault:missing#x"}}`, want: codeInvalidSecretReference},
		{name: "value and ref", body: `{"secrets": {"password": "x"}, "secret_refs": {"password": "env:PW"}}`, want: codeInvalidRequest},
		{name: "empty ref", body: `{"secret_refs": {"password": "  "}}`, want: codeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeProvisioner{}
			es := newTestServer(t, fake, nil)
			rec := doProvision(t, es, tt.body, testToken)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Fatalf("body %q missing %q", rec.Body.String(), tt.want)
			}
			if len(fake.reqs) != 0 {
				t.Fatal("provisioner called for a rejected body")
			}
		})
	}
}

func TestProvisionRequiresToken(t *testing.T) {
	t.Parallel()

	fake := &fakeProvisioner{res: provision.Result{Status: provision.SuccessMarker}}
	es := newTestServer(t, fake, nil)

	for _, token := range []string{"", "wrong-token-0123456789abcdefgh"} {
		rec := doProvision(t, es, mssqlBody, token)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status=%d", token, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Fatal("missing WWW-Authenticate header")
		}
	}
	if len(fake.reqs) != 0 {
		t.Fatal("provisioner called without valid token")
	}
}

func TestProvisionRejectedWhenTokenUnconfigured(t *testing.T) {
	t.Parallel()

	fake := &fakeProvisioner{}
	es := newTestServer(t, fake, func(o *Options) { o.Authenticator = nil })

	rec := doProvision(t, es, mssqlBody, testToken)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), codeAuthNotConfigured) {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestProvisionAppliesTimeout(t *testing.T) {
	t.Parallel()

	var deadline time.Time
	p := provisionerFunc(func(ctx context.Context, _ provision.Request) (provision.Result, error) {
		deadline, _ = ctx.Deadline()
		return provision.Result{Status: provision.SuccessMarker}, nil
	})
	es := newTestServer(t, p, func(o *Options) { o.Timeout = time.Minute })

	if rec := doProvision(t, es, mssqlBody, testToken); rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if deadline.IsZero() {
		t.Fatal("expected a deadline on the provisioning context")
	}
}

type provisionerFunc func(ctx context.Context, req provision.Request) (provision.Result, error)

func (f provisionerFunc) Provision(ctx context.Context, req provision.Request) (provision.Result, error) {
	return f(ctx, req)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := &fakeRuns{records: []audit.Record{{
		ID:         uuid.MustParse("5f2b8c1e-8d7a-4c7e-9d43-0b6f3c1a2e90"),
		Slug:       "mssql",
		Status:     "success",
		StartedAt:  started,
		FinishedAt: started.Add(250 * time.Millisecond),
	}}}
	es := newTestServer(t, &fakeProvisioner{}, func(o *Options) { o.Runs = runs })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?slug=mssql&limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if runs.opts.Slug != "mssql" || runs.opts.Limit != 10 {
		t.Fatalf("opts = %#v", runs.opts)
	}
	if !strings.Contains(rec.Body.String(), `"duration_ms":250`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=0", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	es := newTestServer(t, &fakeProvisioner{}, nil)
	rec := httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	t.Parallel()

	es := newTestServer(t, &fakeProvisioner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	rec = httptest.NewRecorder()
	es.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "bad id\n" || got == "" {
		t.Fatalf("X-Request-ID = %q, want a minted id", got)
	}
}

func TestHTTPErrorHandlerInternalErrorIsGeneric(t *testing.T) {
	t.Parallel()

	es := newTestServer(t, &fakeProvisioner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	rec := httptest.NewRecorder()
	c := es.e.NewContext(req, rec)
	c.Set(ContextKeyRequestID, "req-123")

	es.httpErrorHandler(c, errors.New("very sensitive error"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want %d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	if strings.Contains(body, "very sensitive") {
		t.Fatalf("response leaked error details: %q", body)
	}
	if !strings.Contains(body, InternalErrorCode) || !strings.Contains(body, "req-123") {
		t.Fatalf("response = %q", body)
	}
}

func TestHTTPErrorHandlerNotFoundDoesNotLeakMessage(t *testing.T) {
	t.Parallel()

	es := newTestServer(t, &fakeProvisioner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/missing", nil)
	rec := httptest.NewRecorder()
	c := es.e.NewContext(req, rec)

	es.httpErrorHandler(c, echo.NewHTTPError(http.StatusNotFound, "leaky not found"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want %d", rec.Code, http.StatusNotFound)
	}
	body := rec.Body.String()
	if strings.Contains(body, "leaky") {
		t.Fatalf("response leaked error details: %q", body)
	}
	if !strings.Contains(body, "NOT_FOUND") {
		t.Fatalf("response missing code: %q", body)
	}
}

func TestHTTPStatusFromErrorUsesStatusCoder(t *testing.T) {
	t.Parallel()

	if got := httpStatusFromError(echo.ErrNotFound); got != http.StatusNotFound {
		t.Fatalf("status=%d want %d", got, http.StatusNotFound)
	}
	if got := httpStatusFromError(echo.ErrForbidden); got != http.StatusForbidden {
		t.Fatalf("status=%d want %d", got, http.StatusForbidden)
	}
	if got := httpStatusFromError(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("status=%d want %d", got, http.StatusInternalServerError)
	}
}

func TestNewEchoServerRequiresProvisioner(t *testing.T) {
	t.Parallel()

	if _, err := NewEchoServer(Options{}); err == nil {
		t.Fatal("expected error without provisioner")
	}
}
