package reporting

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
)

// Handler serves the reports as JSON or, with ?format=csv, as CSV downloads.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/near-expiry", h.nearExpiry)
		r.Get("/reorder", h.reorder)
		r.Get("/supplier-performance", h.supplierPerformance)
		r.Get("/stock-health", h.stockHealth)
	})
}

func (h *Handler) nearExpiry(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))
	rows, err := h.service.NearExpiry(r.Context(), window)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if wantsCSV(r) {
		records := [][]string{{"item_id", "barcode", "item_name", "lot_id", "qty", "expiry", "days_left"}}
		for _, row := range rows {
			records = append(records, []string{
				strconv.FormatInt(row.ItemID, 10), row.Barcode, row.ItemName,
				strconv.FormatInt(row.LotID, 10), strconv.FormatInt(row.Qty, 10),
				row.Expiry.Format("2006-01-02"), strconv.Itoa(row.DaysLeft),
			})
		}
		h.serveCSV(w, "near_expiry.csv", records)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.BelowReorderThreshold(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if wantsCSV(r) {
		records := [][]string{{"item_id", "barcode", "item_name", "on_hand", "reorder_threshold"}}
		for _, row := range rows {
			records = append(records, []string{
				strconv.FormatInt(row.ItemID, 10), row.Barcode, row.ItemName,
				strconv.FormatInt(row.OnHand, 10), strconv.FormatInt(row.ReorderThreshold, 10),
			})
		}
		h.serveCSV(w, "reorder.csv", records)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) supplierPerformance(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.SupplierPerformance(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if wantsCSV(r) {
		records := [][]string{{"supplier_id", "supplier_name", "orders_total", "orders_received", "on_time", "late", "ordered_qty", "received_qty"}}
		for _, row := range rows {
			records = append(records, []string{
				strconv.FormatInt(row.SupplierID, 10), row.SupplierName,
				strconv.FormatInt(row.OrdersTotal, 10), strconv.FormatInt(row.OrdersReceived, 10),
				strconv.FormatInt(row.OnTime, 10), strconv.FormatInt(row.Late, 10),
				strconv.FormatInt(row.OrderedQty, 10), strconv.FormatInt(row.ReceivedQty, 10),
			})
		}
		h.serveCSV(w, "supplier_performance.csv", records)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) stockHealth(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))
	health, err := h.service.StockHealth(r.Context(), window)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, health)
}

func wantsCSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "csv"
}

func (h *Handler) serveCSV(w http.ResponseWriter, filename string, records [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.WriteAll(records); err != nil {
		h.logger.Error("write csv", slog.Any("error", err))
	}
}
