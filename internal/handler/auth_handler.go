package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/service"
)

const maxBodyBytes = 64 << 10

// AuthHandler serves the action-dispatched auth endpoint and the protected
// account endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/auth", h.HandleAction)

	router.Group(func(r chi.Router) {
		r.Use(WithAuth(h.auth, h.logger))
		r.Get("/me", h.Me)
		r.Get("/sessions", h.Sessions)
		r.With(RequireTier(h.auth, model.TierPro, h.logger)).Get("/insights", h.Insights)
	})
}

type actionEnvelope struct {
	Action string `json:"action"`
}

// HandleAction dispatches on the "action" field of the JSON body.
// @Router /auth [post]
func (h *AuthHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondWithError(w, r, h.logger, apperr.Validation("invalid JSON body"))
		return
	}
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		respondWithError(w, r, h.logger, apperr.Validation("invalid JSON body"))
		return
	}

	switch env.Action {
	case "signup":
		h.signup(w, r, raw)
	case "login":
		h.login(w, r, raw)
	case "logout":
		h.logout(w, r, raw, false)
	case "revoke-session":
		h.logout(w, r, raw, true)
	case "refresh-token":
		h.refresh(w, r, raw)
	case "request-verification":
		h.requestVerification(w, r, raw)
	case "request-recovery":
		h.requestRecovery(w, r, raw)
	case "complete-recovery":
		h.completeRecovery(w, r, raw)
	case "":
		respondWithError(w, r, h.logger, apperr.Validation("action is required"))
	default:
		respondWithError(w, r, h.logger, apperr.Validation("unknown action"))
	}
}

func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.SignupRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	res, err := h.auth.Signup(r.Context(), req, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(res, "Account created"))
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.LoginRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(res, "Logged in"))
}

// logout covers both logout and revoke-session; the latter needs a
// session_id.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request, raw json.RawMessage, named bool) {
	p, err := h.auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	var req service.LogoutRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	if named && req.SessionID == "" {
		respondWithError(w, r, h.logger, apperr.Validation("session_id is required"))
		return
	}
	n, err := h.auth.Logout(r.Context(), p, req, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]int64{"revoked": n}, "Sessions revoked"))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.RefreshRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	res, err := h.auth.RefreshToken(r.Context(), req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(res, ""))
}

func (h *AuthHandler) requestVerification(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.VerificationRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	sent, err := h.auth.RequestVerification(r.Context(), req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]bool{"sent": sent}, "Verification code sent"))
}

func (h *AuthHandler) requestRecovery(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.RecoveryRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	if err := h.auth.RequestRecovery(r.Context(), req, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Recovery codes sent to your phone and backup email"))
}

func (h *AuthHandler) completeRecovery(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req service.CompleteRecoveryRequest
	if !h.decode(w, r, raw, &req) {
		return
	}
	if err := h.auth.CompleteRecovery(r.Context(), req, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "PIN reset. Please log in again"))
}

// Me returns the caller's profile.
// @Router /me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	profile, err := h.auth.Profile(r.Context(), p)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(profile, ""))
}

// @Router /sessions [get]
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessions, err := h.auth.ListSessions(r.Context(), p)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(sessions, ""))
}

type insights struct {
	ActiveSessions int      `json:"active_sessions"`
	Devices        []string `json:"devices"`
}

// Insights is the sample pro-tier feature: a summary of live devices.
// @Router /insights [get]
func (h *AuthHandler) Insights(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessions, err := h.auth.ListSessions(r.Context(), p)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	now := time.Now()
	out := insights{Devices: []string{}}
	for _, s := range sessions {
		if s.Revoked || !now.Before(s.ExpiresAt) {
			continue
		}
		out.ActiveSessions++
		if s.DeviceLabel != "" {
			out.Devices = append(out.Devices, s.DeviceLabel)
		}
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(out, ""))
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			respondWithError(w, r, h.logger, apperr.Validation("field "+typeErr.Field+" has the wrong type"))
			return false
		}
		respondWithError(w, r, h.logger, apperr.Validation("invalid JSON body"))
		return false
	}
	return true
}

func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}
