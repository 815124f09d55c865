package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/httpx"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/shared"
)

const idempotencyModule = "chain"

// Queue hands step execution events to the background worker.
type Queue interface {
	EnqueueStepExecuted(ctx context.Context, stepID int64) (*asynq.TaskInfo, error)
}

// IdempotencyPort deduplicates step execution events.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler receives step execution notifications.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	queue       Queue
	idempotency IdempotencyPort
}

// NewHandler constructs the chain handler. queue may be nil, in which case
// events are processed synchronously; idempotency may be nil to disable
// deduplication.
func NewHandler(logger *slog.Logger, service *Service, queue Queue, idempotency IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, queue: queue, idempotency: idempotency}
}

// MountRoutes registers chain routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/steps/{id}/executed", h.stepExecuted)
}

func (h *Handler) stepExecuted(w http.ResponseWriter, r *http.Request) {
	stepID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || stepID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "step id must be a positive integer")
		return
	}

	key := fmt.Sprintf("step-executed:%d", stepID)
	if h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				return
			}
			h.logger.Error("idempotency check failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	if h.queue != nil {
		if _, err := h.queue.EnqueueStepExecuted(r.Context(), stepID); err != nil {
			h.rollbackKey(r.Context(), key)
			h.logger.Error("enqueue step execution", slog.Int64("step_id", stepID), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "could not enqueue step execution event")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	if err := h.service.PropagateAfterStepExecution(r.Context(), stepID); err != nil {
		h.rollbackKey(r.Context(), key)
		h.logger.Error("process step execution", slog.Int64("step_id", stepID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) rollbackKey(ctx context.Context, key string) {
	if h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(ctx, key); err != nil {
		h.logger.Warn("rollback idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}
