package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"github.com/kursadbilgin/message-dispatch/internal/observability"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
	"github.com/kursadbilgin/message-dispatch/internal/service"
	"github.com/kursadbilgin/message-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), nil)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz skips redis when not configured", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["redis"] != "skipped" {
			t.Fatalf("redis check = %q, want skipped", parsed.Checks["redis"])
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("database down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

func TestDispatchIntegration_Status(t *testing.T) {
	t.Parallel()

	status := &stubDispatchStatus{
		state: service.StateAborted,
		err:   errors.New("failed to record TEXT attempt: store down"),
	}
	app := newOpsTestApp(t, status, &stubSummaryReader{})

	resp, body := performRequest(t, app, http.MethodGet, "/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["state"] != service.StateAborted.String() {
		t.Fatalf("state = %v, want ABORTED", parsed["state"])
	}
	if parsed["runId"] != "run-ops" {
		t.Fatalf("runId = %v, want run-ops", parsed["runId"])
	}
	if !strings.Contains(parsed["error"].(string), "store down") {
		t.Fatalf("error = %v, want store down", parsed["error"])
	}
}

func TestDispatchIntegration_Summary(t *testing.T) {
	t.Parallel()

	summaries := &stubSummaryReader{
		summaryFn: func(ctx context.Context) (domain.Summary, error) {
			return domain.NewSummary(3, 2, 1, 2, 600), nil
		},
	}
	app := newOpsTestApp(t, &stubDispatchStatus{state: service.StateDone}, summaries)

	resp, body := performRequest(t, app, http.MethodGet, "/summary", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed domain.Summary
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Total != 3 || parsed.TextCount != 2 || parsed.MediaCount != 1 {
		t.Fatalf("summary = %+v, want total=3 text=2 media=1", parsed)
	}
	if parsed.AvgDurationMs != 200 {
		t.Fatalf("AvgDurationMs = %v, want 200", parsed.AvgDurationMs)
	}
}

func TestDispatchIntegration_SummaryStoreFailure(t *testing.T) {
	t.Parallel()

	summaries := &stubSummaryReader{
		summaryFn: func(ctx context.Context) (domain.Summary, error) {
			return domain.Summary{}, &repository.StoreError{Op: "summarize", Err: errors.New("database is locked")}
		},
	}
	app := newOpsTestApp(t, &stubDispatchStatus{state: service.StateSending}, summaries)

	resp, body := performRequest(t, app, http.MethodGet, "/summary", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}
}

func TestDispatchIntegration_Metrics(t *testing.T) {
	t.Parallel()

	app := newOpsTestApp(t, &stubDispatchStatus{state: service.StateDone}, &stubSummaryReader{})

	_, _ = performRequest(t, app, http.MethodGet, "/livez", "")
	resp, body := performRequest(t, app, http.MethodGet, "/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "message_dispatch_http_requests_total") {
		t.Fatalf("metrics body missing http request counter:\n%s", body)
	}
	if !strings.Contains(string(body), "message_dispatch_pending_messages") {
		t.Fatalf("metrics body missing pending gauge:\n%s", body)
	}
}

func TestToHTTPError(t *testing.T) {
	t.Parallel()

	errPlain := errors.New("boom")
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation", err: fmt.Errorf("%w: bad input", domain.ErrValidation), wantStatus: fiber.StatusBadRequest},
		{name: "store failure", err: &repository.StoreError{Op: "summarize", Err: errPlain}, wantStatus: fiber.StatusServiceUnavailable},
		{name: "unclassified", err: errPlain},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := toHTTPError(tc.err)
			var fiberErr *fiber.Error
			if tc.wantStatus == 0 {
				if errors.As(got, &fiberErr) || !errors.Is(got, errPlain) {
					t.Fatalf("toHTTPError() = %v, want the error passed through", got)
				}
				return
			}
			if !errors.As(got, &fiberErr) || fiberErr.Code != tc.wantStatus {
				t.Fatalf("toHTTPError() = %v, want status %d", got, tc.wantStatus)
			}
		})
	}
}

func TestNewDispatchHandlerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatchHandler(nil, &stubSummaryReader{}, ""); err == nil {
		t.Fatal("expected error for nil status")
	}
	if _, err := NewDispatchHandler(&stubDispatchStatus{}, nil, ""); err == nil {
		t.Fatal("expected error for nil summary reader")
	}
}

func newOpsTestApp(t *testing.T, status DispatchStatus, summaries SummaryReader) *fiber.App {
	t.Helper()

	sqlDB := sql.OpenDB(stubConnector{})
	t.Cleanup(func() { _ = sqlDB.Close() })

	app, err := NewOpsApp(OpsOptions{
		Logger:    zap.NewNop(),
		Metrics:   observability.NewMetrics(),
		SQLDB:     sqlDB,
		Status:    status,
		Summaries: summaries,
		RunID:     "run-ops",
	})
	if err != nil {
		t.Fatalf("NewOpsApp() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubDispatchStatus struct {
	state service.State
	err   error
}

func (s *stubDispatchStatus) State() service.State { return s.state }
func (s *stubDispatchStatus) Err() error           { return s.err }

type stubSummaryReader struct {
	summaryFn func(ctx context.Context) (domain.Summary, error)
}

func (s *stubSummaryReader) Summary(ctx context.Context) (domain.Summary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx)
	}
	return domain.Summary{}, nil
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
