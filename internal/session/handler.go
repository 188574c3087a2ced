package session

import (
	"errors"
	"net/http"

	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/stats"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type EndResponse struct {
	Outcome   progress.DayOutcome  `json:"outcome"`
	Stats     stats.AggregateStats `json:"stats"`
	Persisted bool                 `json:"persisted"`
}

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
	}
}

func (handler *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.create")
	defer span.End()

	s, err := handler.manager.Create()
	if err != nil {
		log.Errorf("create session: %s", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/sessions/"+s.ID())
	pkg.WriteJSON(w, s.Progress(), http.StatusCreated)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.get")
	defer span.End()

	s, ok := handler.session(w, r)
	if !ok {
		return
	}
	pkg.WriteJSON(w, s.Poll(), http.StatusOK)
}

func (handler *Handler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.play")
	defer span.End()

	s, ok := handler.session(w, r)
	if !ok {
		return
	}
	p, err := s.Play()
	writeProgress(w, p, err)
}

func (handler *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.pause")
	defer span.End()

	s, ok := handler.session(w, r)
	if !ok {
		return
	}
	p, err := s.Pause()
	writeProgress(w, p, err)
}

func (handler *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.tick")
	defer span.End()

	s, ok := handler.session(w, r)
	if !ok {
		return
	}
	p, err := s.Tick()
	writeProgress(w, p, err)
}

func (handler *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.end")
	defer span.End()

	id := mux.Vars(r)["id"]
	result, err := handler.manager.End(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrSessionEnded):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Errorf("end session %s: %s", id, err)
		http.Error(w, "failed to end session", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, EndResponse{
		Outcome:   result.Outcome,
		Stats:     result.Stats,
		Persisted: result.PersistErr == nil,
	}, http.StatusOK)
}

func (handler *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := handler.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func writeProgress(w http.ResponseWriter, p Progress, err error) {
	switch {
	case errors.Is(err, ErrSessionEnded), errors.Is(err, ErrClientTicksDisabled):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		log.Errorf("session %s: %s", p.SessionID, err)
		http.Error(w, "session update failed", http.StatusInternalServerError)
	default:
		pkg.WriteJSON(w, p, http.StatusOK)
	}
}
