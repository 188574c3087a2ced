package progress

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"

	log "github.com/sirupsen/logrus"
)

const maxImportSize = 5 << 20

type ListResponse struct {
	Days  []DayOutcome `json:"days"`
	Total int          `json:"total"`
}

type ImportResponse struct {
	Days      int    `json:"days"`
	Persisted bool   `json:"persisted"`
	Mode      string `json:"mode"`
}

type ResetResponse struct {
	Persisted bool `json:"persisted"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

// HandleList returns the stored day outcomes, oldest first.
// Optional from/to query params bound the range, both inclusive.
func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.list")
	defer span.End()

	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	for _, bound := range []string{from, to} {
		if bound == "" {
			continue
		}
		if _, err := calendar.ParseDateKey(bound); err != nil {
			http.Error(w, fmt.Sprintf("invalid date bound: %s", bound), http.StatusBadRequest)
			return
		}
	}

	outcomes := handler.service.Current().Outcomes()
	days := make([]DayOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if from != "" && string(o.Date) < from {
			continue
		}
		if to != "" && string(o.Date) > to {
			continue
		}
		days = append(days, o)
	}

	pkg.WriteJSON(w, ListResponse{Days: days, Total: len(days)}, http.StatusOK)
}

func (handler *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.export")
	defer span.End()

	data, err := handler.service.Export()
	if err != nil {
		log.Errorf("export progress: %s", err)
		http.Error(w, "failed to export progress", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="homecoach-progress.json"`)
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, data, http.StatusOK)
}

func (handler *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.import")
	defer span.End()

	mode := ImportMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = ImportReplace
	}
	if !mode.IsValid() {
		http.Error(w, "mode must be replace or merge", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		log.Errorf("import progress, read body: %s", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) > maxImportSize {
		http.Error(w, "snapshot too large", http.StatusRequestEntityTooLarge)
		return
	}

	store, err := handler.service.Import(ctx, data, mode)
	switch {
	case errors.Is(err, ErrInvalidImport):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrStorageWrite):
		// applied in memory, persistence will be retried on the next write
	case err != nil:
		log.Errorf("import progress: %s", err)
		http.Error(w, "failed to import progress", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, ImportResponse{
		Days:      len(store),
		Persisted: err == nil,
		Mode:      string(mode),
	}, http.StatusOK)
}

func (handler *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.reset")
	defer span.End()

	err := handler.service.Reset(ctx)
	if err != nil && !errors.Is(err, ErrStorageWrite) {
		log.Errorf("reset progress: %s", err)
		http.Error(w, "failed to reset progress", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, ResetResponse{Persisted: err == nil}, http.StatusOK)
}
