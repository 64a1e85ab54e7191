package purchasing

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
)

// Handler exposes the purchase order workflow over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchasing/orders", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}/lines", h.replaceLines)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/close", h.close)
		r.Post("/{id}/receipts", h.receive)
	})
}

type linePayload struct {
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Qty      int64   `json:"qty" validate:"required,gt=0"`
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`
}

type createOrderPayload struct {
	SupplierID int64         `json:"supplier_id" validate:"required,gt=0"`
	ExpectedAt *time.Time    `json:"expected_at"`
	Note       string        `json:"note"`
	Lines      []linePayload `json:"lines" validate:"dive"`
}

type receivePayload struct {
	LineID   int64      `json:"line_id" validate:"required,gt=0"`
	Qty      int64      `json:"qty" validate:"required,gt=0"`
	UnitCost float64    `json:"unit_cost" validate:"gte=0"`
	Expiry   *time.Time `json:"expiry"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context(), Status(r.URL.Query().Get("status")))
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createOrderPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateOrderInput{
		SupplierID: payload.SupplierID,
		ExpectedAt: payload.ExpectedAt,
		Note:       payload.Note,
	}
	for _, line := range payload.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: line.ItemID, Qty: line.Qty, UnitCost: line.UnitCost})
	}

	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	order, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "lines": lines})
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var payload struct {
		Lines []linePayload `json:"lines" validate:"required,dive"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inputs := make([]LineInput, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		inputs = append(inputs, LineInput{ItemID: line.ItemID, Qty: line.Qty, UnitCost: line.UnitCost})
	}
	if err := h.service.ReplaceDraftLines(r.Context(), id, inputs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Submit)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Close)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var payload receivePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lot, err := h.service.ReceiveLine(r.Context(), ReceiveInput{
		OrderID:        id,
		LineID:         payload.LineID,
		Qty:            payload.Qty,
		UnitCost:       payload.UnitCost,
		Expiry:         payload.Expiry,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
