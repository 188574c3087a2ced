package stats

import (
	"fmt"
	"net/http"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"

	log "github.com/sirupsen/logrus"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

// HandleGet returns the aggregate stats, as of today or of the ?date= day.
func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.stats.get")
	defer span.End()

	today := handler.service.Today()
	if date := r.URL.Query().Get("date"); date != "" {
		d, err := calendar.ParseDateKey(date)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid date: %s", date), http.StatusBadRequest)
			return
		}
		today = d
	}

	stats, err := handler.service.On(ctx, today)
	if err != nil {
		log.Errorf("get stats: %s", err)
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, stats, http.StatusOK)
}
