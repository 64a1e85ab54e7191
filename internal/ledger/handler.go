package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Handler exposes manual adjustments and the read-only stock card queries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/adjustments", h.postAdjustment)
		r.Post("/lots/{id}/release", h.releaseLot)
		r.Get("/items/{id}/movements", h.movements)
		r.Get("/items/{id}/on-hand", h.onHand)
	})
}

type adjustmentPayload struct {
	ItemID   int64   `json:"item_id" validate:"required"`
	Delta    int64   `json:"delta" validate:"required"`
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var payload adjustmentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		ItemID:   payload.ItemID,
		Delta:    payload.Delta,
		UnitCost: payload.UnitCost,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("post adjustment", slog.Int64("item_id", payload.ItemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) releaseLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "lot id must be numeric")
		return
	}

	lot, err := h.service.ReleaseLot(r.Context(), lotID)
	if err != nil {
		h.logger.Error("release lot", slog.Int64("lot_id", lotID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"lot_id":  lot.ID,
		"item_id": lot.ItemID,
		"qty":     lot.Qty,
	})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.Movements(r.Context(), itemID, limit)
	if err != nil {
		h.logger.Error("list movements", slog.Int64("item_id", itemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": entries})
}

func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}

	onHand, err := h.service.OnHand(r.Context(), itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	available, err := h.service.Available(r.Context(), itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":   itemID,
		"on_hand":   onHand,
		"available": available,
	})
}
