package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"github.com/kursadbilgin/message-dispatch/internal/observability"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
	"github.com/kursadbilgin/message-dispatch/internal/service"
	"github.com/kursadbilgin/message-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type DispatchStatus interface {
	State() service.State
	Err() error
}

type SummaryReader interface {
	Summary(ctx context.Context) (domain.Summary, error)
}

type DispatchHandler struct {
	status    DispatchStatus
	summaries SummaryReader
	runID     string
}

func NewDispatchHandler(status DispatchStatus, summaries SummaryReader, runID string) (*DispatchHandler, error) {
	if status == nil {
		return nil, fmt.Errorf("dispatch status is required")
	}
	if summaries == nil {
		return nil, fmt.Errorf("summary reader is required")
	}
	return &DispatchHandler{status: status, summaries: summaries, runID: runID}, nil
}

func RegisterDispatchRoutes(router fiber.Router, status DispatchStatus, summaries SummaryReader, runID string) error {
	h, err := NewDispatchHandler(status, summaries, runID)
	if err != nil {
		return err
	}

	router.Get("/status", h.GetStatus)
	router.Get("/summary", h.GetSummary)

	return nil
}

type statusResponse struct {
	RunID string `json:"runId,omitempty"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (h *DispatchHandler) GetStatus(c *fiber.Ctx) error {
	resp := statusResponse{
		RunID: h.runID,
		State: h.status.State().String(),
	}
	if err := h.status.Err(); err != nil {
		resp.Error = err.Error()
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *DispatchHandler) GetSummary(c *fiber.Ctx) error {
	summary, err := h.summaries.Summary(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

func toHTTPError(err error) error {
	var storeErr *repository.StoreError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &storeErr):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

// OpsOptions wires the ops server. Redis is optional.
type OpsOptions struct {
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	SQLDB     *sql.DB
	Redis     *redis.Client
	Status    DispatchStatus
	Summaries SummaryReader
	RunID     string
}

// NewOpsApp builds the fiber app serving health, metrics and run status.
func NewOpsApp(opts OpsOptions) (*fiber.App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(opts.Metrics.HTTPMiddleware())

	RegisterHealthRoutes(app, opts.SQLDB, opts.Redis)
	app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))

	if err := RegisterDispatchRoutes(app, opts.Status, opts.Summaries, opts.RunID); err != nil {
		return nil, err
	}

	return app, nil
}
