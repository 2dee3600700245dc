package httpserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/i18n"
	"github.com/Clark-Hu/stars/internal/ledger"
)

type refPayload struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

type rateRequest struct {
	Rate   *int        `json:"rate"`
	Actor  *refPayload `json:"actor"`
	Device string      `json:"device"`
	IP     string      `json:"ip"`
	Source string      `json:"source"`
}

type rateResponse struct {
	Rating  domain.Rating `json:"rating"`
	Outcome string        `json:"outcome"`
}

type ratingListResponse struct {
	Items []domain.Rating `json:"items"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleRateTarget(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}

	var req rateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if req.Rate == nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rate is required")
		return
	}

	in := s.ambientInput(r)
	in.Rate = *req.Rate
	in.Device = req.Device
	in.IP = req.IP
	in.Source = req.Source
	if req.Actor != nil {
		in.Actor = domain.Ref{Kind: strings.TrimSpace(req.Actor.Kind), ID: req.Actor.ID}
	}

	res, err := s.ledger.Upsert(r.Context(), target, in)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to store rating")
		return
	}

	status := http.StatusOK
	if res.Outcome == ledger.Created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, rateResponse{Rating: res.Rating, Outcome: res.Outcome.String()})
}

func (s *Server) handleGetTargetRating(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	in, err := s.queryInput(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.findAndRespond(w, r, target, in)
}

func (s *Server) handleRemoveTargetRating(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	in, err := s.queryInput(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.removeAndRespond(w, r, target, in)
}

func (s *Server) handleTargetStats(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	stats, err := s.ledger.Target(target).Stats(r.Context())
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to fetch stats")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTargetRatings(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	items, err := s.ledger.Target(target).Latest(r.Context(), limit)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to list ratings")
		return
	}
	s.respondJSON(w, http.StatusOK, ratingListResponse{Items: items})
}

func (s *Server) handleForgetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	n, err := s.ledger.ForgetReceived(r.Context(), target)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to remove ratings")
		return
	}
	s.logger.Info("ratings forgotten", "target", target.String(), "removed", n)
	s.respondJSON(w, http.StatusOK, removedResponse{Removed: n})
}

func (s *Server) handleActorStats(w http.ResponseWriter, r *http.Request) {
	actor, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	stats, err := s.ledger.Rater(actor).StatsGiven(r.Context())
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to fetch stats")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleActorRatings(w http.ResponseWriter, r *http.Request) {
	actor, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	s.listScope(w, r, domain.ActorScope(actor))
}

func (s *Server) handleForgetActor(w http.ResponseWriter, r *http.Request) {
	actor, err := refParam(r, "kind", "id")
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	n, err := s.ledger.Rater(actor).ForgetGiven(r.Context())
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to remove ratings")
		return
	}
	s.logger.Info("ratings forgotten", "actor", actor.String(), "removed", n)
	s.respondJSON(w, http.StatusOK, removedResponse{Removed: n})
}

func (s *Server) handleGetActorRating(w http.ResponseWriter, r *http.Request) {
	actor, target, err := actorTargetParams(r)
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	s.findAndRespond(w, r, target, ledger.ByActor(actor))
}

func (s *Server) handleRemoveActorRating(w http.ResponseWriter, r *http.Request) {
	actor, target, err := actorTargetParams(r)
	if err != nil {
		s.respondBadTarget(w, r, err)
		return
	}
	s.removeAndRespond(w, r, target, ledger.ByActor(actor))
}

func (s *Server) handleDeviceRatings(w http.ResponseWriter, r *http.Request) {
	device, err := deviceParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.listScope(w, r, domain.DeviceScope(device))
}

func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := deviceParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	n, err := s.ledger.RemoveAll(r.Context(), domain.DeviceScope(device))
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to remove ratings")
		return
	}
	s.logger.Info("ratings forgotten", "device", device, "removed", n)
	s.respondJSON(w, http.StatusOK, removedResponse{Removed: n})
}

func (s *Server) listScope(w http.ResponseWriter, r *http.Request, scope domain.Scope) {
	query := r.URL.Query()
	limit, err := parseLimit(query)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	scope.TargetKind = strings.TrimSpace(query.Get("targetKind"))
	items, err := s.ledger.Latest(r.Context(), scope, limit)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to list ratings")
		return
	}
	s.respondJSON(w, http.StatusOK, ratingListResponse{Items: items})
}

func (s *Server) findAndRespond(w http.ResponseWriter, r *http.Request, target domain.Ref, in ledger.Input) {
	rating, ok, err := s.ledger.Find(r.Context(), target, in)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to fetch rating")
		return
	}
	if !ok {
		s.respondLedgerError(w, r, ledger.ErrNotFound, "")
		return
	}
	s.respondJSON(w, http.StatusOK, rating)
}

func (s *Server) removeAndRespond(w http.ResponseWriter, r *http.Request, target domain.Ref, in ledger.Input) {
	removed, err := s.ledger.Remove(r.Context(), target, in)
	if err != nil {
		s.respondLedgerError(w, r, err, "Failed to remove rating")
		return
	}
	if !removed {
		s.respondLedgerError(w, r, ledger.ErrNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ambientInput fills the request-derived defaults: the configured device and
// source headers and the client address.
func (s *Server) ambientInput(r *http.Request) ledger.Input {
	return ledger.Input{
		Ambient: ledger.Ambient{
			Device: strings.TrimSpace(r.Header.Get(s.cfg.DeviceHeader)),
			Source: strings.TrimSpace(r.Header.Get(s.cfg.SourceHeader)),
			IP:     clientIP(r),
		},
	}
}

// queryInput reads the caller identity from actorKind/actorId or device query
// parameters, falling back to the ambient headers.
func (s *Server) queryInput(r *http.Request) (ledger.Input, error) {
	in := s.ambientInput(r)
	query := r.URL.Query()
	in.Device = strings.TrimSpace(query.Get("device"))

	kind := strings.TrimSpace(query.Get("actorKind"))
	rawID := strings.TrimSpace(query.Get("actorId"))
	if kind == "" && rawID == "" {
		return in, nil
	}
	if kind == "" || rawID == "" {
		return ledger.Input{}, fmt.Errorf("actorKind and actorId must be given together")
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return ledger.Input{}, fmt.Errorf("invalid actorId value")
	}
	in.Actor = domain.Ref{Kind: kind, ID: id}
	return in, nil
}

func refParam(r *http.Request, kindKey, idKey string) (domain.Ref, error) {
	kind, err := url.PathUnescape(chi.URLParam(r, kindKey))
	if err != nil || strings.TrimSpace(kind) == "" {
		return domain.Ref{}, fmt.Errorf("missing %s parameter", kindKey)
	}
	id, err := strconv.ParseUint(chi.URLParam(r, idKey), 10, 64)
	if err != nil {
		return domain.Ref{}, fmt.Errorf("invalid %s parameter", idKey)
	}
	return domain.Ref{Kind: strings.TrimSpace(kind), ID: id}, nil
}

func actorTargetParams(r *http.Request) (domain.Ref, domain.Ref, error) {
	actor, err := refParam(r, "kind", "id")
	if err != nil {
		return domain.Ref{}, domain.Ref{}, err
	}
	target, err := refParam(r, "targetKind", "targetId")
	if err != nil {
		return domain.Ref{}, domain.Ref{}, err
	}
	return actor, target, nil
}

func deviceParam(r *http.Request) (string, error) {
	device, err := url.PathUnescape(chi.URLParam(r, "device"))
	if err != nil || strings.TrimSpace(device) == "" {
		return "", fmt.Errorf("missing device parameter")
	}
	return strings.TrimSpace(device), nil
}

func parseLimit(query url.Values) (int, error) {
	raw := strings.TrimSpace(query.Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > ledger.MaxListLimit {
		limit = ledger.MaxListLimit
	}
	return limit, nil
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *Server) respondBadTarget(w http.ResponseWriter, r *http.Request, err error) {
	tag := i18n.Match(r.Header.Get("Accept-Language"))
	s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", i18n.T(tag, i18n.KeyInvalidTarget)+": "+err.Error())
}

// respondLedgerError maps ledger errors onto the error envelope.
func (s *Server) respondLedgerError(w http.ResponseWriter, r *http.Request, err error, failure string) {
	tag := i18n.Match(r.Header.Get("Accept-Language"))
	switch {
	case ledger.IsInputError(err):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", i18n.Error(tag, err))
	case errors.Is(err, ledger.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", i18n.T(tag, i18n.KeyNotFound))
	default:
		s.logger.Error(failure, "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", i18n.T(tag, i18n.KeyInternal))
	}
}
