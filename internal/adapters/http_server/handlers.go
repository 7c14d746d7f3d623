package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"unirate/internal/app"
)

type Handlers struct{ Gate *app.Gate }

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const maxIDLen = 64

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(s.limit)

		r.Post("/v1/devices", h.newDevice)
		r.Route("/v1/devices/{deviceID}", func(r chi.Router) {
			r.Get("/reviews/{reviewID}/access", h.anonAccess)
			r.Post("/reviews/{reviewID}/views", h.anonView)
			r.Get("/quota", h.quotaStatus)
			r.Delete("/quota", h.resetQuota)
			r.Post("/session", h.signIn)
			r.Delete("/session", h.signOut)
		})
		r.Get("/v1/users/{userID}/access", h.authedAccess)
		r.Post("/v1/users/{userID}/reviews/{reviewID}/views", h.authedView)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// deviceParam accepts only install IDs issued as UUIDs.
func deviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid device ID", "device ID must be a UUID")
		return "", false
	}
	return id.String(), true
}

func idParam(w http.ResponseWriter, raw, name string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxIDLen {
		writeProblem(w, http.StatusBadRequest, "Invalid "+name, name+" must be 1-64 characters")
		return "", false
	}
	return id, true
}

func (h *Handlers) newDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"device_id": uuid.NewString()})
}

func (h *Handlers) anonAccess(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	review, ok := idParam(w, chi.URLParam(r, "reviewID"), "review ID")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Gate.CanViewAnother(r.Context(), device, review))
}

func (h *Handlers) anonView(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	review, ok := idParam(w, chi.URLParam(r, "reviewID"), "review ID")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Gate.RegisterView(r.Context(), device, review))
}

func (h *Handlers) quotaStatus(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	st, err := h.Gate.Status(r.Context(), device)
	if err != nil {
		log.Error().Err(err).Str("device", device).Msg("quota status failed")
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) resetQuota(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	h.Gate.ResetAnonCounters(r.Context(), device)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) signIn(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "expected {\"user_id\": \"...\"}")
		return
	}
	user, ok := idParam(w, body.UserID, "user ID")
	if !ok {
		return
	}
	reset := h.Gate.SignIn(r.Context(), device, user)
	writeJSON(w, http.StatusOK, map[string]bool{"anon_reset": reset})
}

func (h *Handlers) signOut(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	h.Gate.SignOut(r.Context(), device)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) authedAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := idParam(w, chi.URLParam(r, "userID"), "user ID")
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("review_id"); raw != "" {
		review, ok := idParam(w, raw, "review ID")
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, h.Gate.CanAuthedViewReview(r.Context(), user, review))
		return
	}
	writeJSON(w, http.StatusOK, h.Gate.CanAuthedViewAnother(r.Context(), user))
}

func (h *Handlers) authedView(w http.ResponseWriter, r *http.Request) {
	user, ok := idParam(w, chi.URLParam(r, "userID"), "user ID")
	if !ok {
		return
	}
	review, ok := idParam(w, chi.URLParam(r, "reviewID"), "review ID")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Gate.RegisterAuthedReviewView(r.Context(), user, review))
}
