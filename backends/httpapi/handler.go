package httpapi

import (
	"errors"
	"net/http"

	"gamesession-matchmaker/matchmaking"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type listFleetsResponse struct {
	FleetIDs []string `json:"fleetIds"`
}

type describeGameSessionsResponse struct {
	GameSessions []matchmaking.GameSession `json:"gameSessions"`
}

type createPlayerSessionRequest struct {
	PlayerID string `json:"playerId"`
}

type createPlayerSessionResponse struct {
	PlayerSession *matchmaking.PlayerSession `json:"playerSession"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeSessionFull  = "GameSessionFullException"
	codeSessionGone  = "NotFoundException"
	codeInvalid      = "InvalidRequestException"
	codeInternal     = "InternalServiceException"
	codeUnauthorized = "UnauthorizedException"
)

// NewHandler exposes svc over HTTP. When credentials is set, requests must carry
// a bearer JWT signed with it.
func NewHandler(svc matchmaking.Service, credentials string) http.Handler {
	h := &handler{svc: svc}
	r := mux.NewRouter()
	r.HandleFunc("/fleets", h.listFleets).Methods(http.MethodGet)
	r.HandleFunc("/fleets/{fleetId}/game-sessions", h.describeGameSessions).Methods(http.MethodGet)
	r.HandleFunc("/game-sessions/{gameSessionId}/player-sessions", h.createPlayerSession).Methods(http.MethodPost)
	if credentials != "" {
		r.Use(bearerAuth(credentials))
	}
	return r
}

type handler struct {
	svc matchmaking.Service
}

func (h *handler) listFleets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListFleets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, listFleetsResponse{FleetIDs: ids})
}

func (h *handler) describeGameSessions(w http.ResponseWriter, r *http.Request) {
	fleetID := mux.Vars(r)["fleetId"]
	sessions, err := h.svc.DescribeGameSessions(r.Context(), fleetID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []matchmaking.GameSession{}
	}
	writeJSON(w, http.StatusOK, describeGameSessionsResponse{GameSessions: sessions})
}

func (h *handler) createPlayerSession(w http.ResponseWriter, r *http.Request) {
	var req createPlayerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: codeInvalid, Message: "playerId is required"})
		return
	}
	sessionID := mux.Vars(r)["gameSessionId"]
	ps, err := h.svc.CreatePlayerSession(r.Context(), sessionID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createPlayerSessionResponse{PlayerSession: ps})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matchmaking.ErrSessionFull):
		writeJSON(w, http.StatusConflict, errorResponse{Code: codeSessionFull, Message: err.Error()})
	case errors.Is(err, matchmaking.ErrSessionGone):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: codeSessionGone, Message: err.Error()})
	default:
		log.Error().Err(err).Msg("httpapi: request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: codeInternal, Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("httpapi: failed to write response")
	}
}
