package allocation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/httpx"
)

// Handler exposes the allocation API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	store    Store
	validate *validator.Validate
}

// NewHandler constructs the allocation handler.
func NewHandler(logger *slog.Logger, service *Service, store Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations", h.allocate)
	r.Get("/moves/{id}", h.showMove)
}

// AllocateRequest asks the engine to attempt reservation for a batch of
// demand lines.
type AllocateRequest struct {
	MoveIDs []int64 `json:"move_ids" validate:"required,min=1,dive,gt=0"`
}

// MoveResponse is the API shape of a demand line and its reservations.
type MoveResponse struct {
	ID        int64          `json:"id"`
	Reference string         `json:"reference"`
	State     string         `json:"state"`
	Demand    float64        `json:"demand"`
	Unit      string         `json:"unit"`
	WholeLot  bool           `json:"whole_lot"`
	Lines     []LineResponse `json:"lines"`
}

// LineResponse is one reserved lot.
type LineResponse struct {
	LotID   int64   `json:"lot_id"`
	LotName string  `json:"lot_name"`
	Qty     float64 `json:"qty"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Allocate(r.Context(), req.MoveIDs); err != nil {
		h.logger.Error("allocation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]MoveResponse, 0, len(req.MoveIDs))
	for _, id := range req.MoveIDs {
		resp, err := h.moveResponse(r, id)
		if err != nil {
			if errors.Is(err, ErrMoveNotFound) {
				continue
			}
			h.logger.Error("read move after allocation", slog.Int64("move_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"moves": out})
}

func (h *Handler) showMove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "move id must be a positive integer")
		return
	}
	resp, err := h.moveResponse(r, id)
	if err != nil {
		if errors.Is(err, ErrMoveNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "move does not exist")
			return
		}
		h.logger.Error("read move", slog.Int64("move_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) moveResponse(r *http.Request, id int64) (MoveResponse, error) {
	move, err := h.store.GetMove(r.Context(), id)
	if err != nil {
		return MoveResponse{}, err
	}
	lines, err := h.store.LinesForMove(r.Context(), id)
	if err != nil {
		return MoveResponse{}, err
	}
	resp := MoveResponse{
		ID:        move.ID,
		Reference: move.Reference,
		State:     string(move.State),
		Demand:    move.Demand,
		Unit:      move.MoveUnit.Name,
		WholeLot:  move.WholeLot,
		Lines:     make([]LineResponse, 0, len(lines)),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, LineResponse{LotID: line.LotID, LotName: line.LotName, Qty: line.Qty})
	}
	return resp, nil
}
