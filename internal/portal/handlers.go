// Package portal carries the token-gated HTTP surface around the gateway:
// the two login routes and the admin record handlers whose mutations feed
// the admin dashboard through the event publisher. Handlers never reach
// into registry or router internals.
package portal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/boltbuttar/campusgate/internal/router"
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/config"
)

// EventPublisher is the sole coupling point between the portal handlers and
// the real-time gateway.
type EventPublisher interface {
	Publish(room, eventType string, payload any) error
}

type Handlers struct {
	logger    *slog.Logger
	store     *Store
	issuer    *auth.Issuer
	publisher EventPublisher
	creds     config.PortalConfig
}

func NewHandlers(logger *slog.Logger, store *Store, issuer *auth.Issuer, publisher EventPublisher, creds config.PortalConfig) *Handlers {
	return &Handlers{
		logger:    logger.With(slog.String("component", "portal")),
		store:     store,
		issuer:    issuer,
		publisher: publisher,
		creds:     creds,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminLogin handles POST /auth/login.
func (h *Handlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.creds.Admin, auth.RoleAdmin)
}

// StudentLogin handles POST /auth/student/login.
func (h *Handlers) StudentLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.creds.Student, auth.RoleStudent)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request, cred config.CredentialConfig, role auth.Role) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email != cred.Email || req.Password != cred.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.issuer.Issue(req.Email, role)
	if err != nil {
		h.logger.Error("Failed to issue token", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

// CreateStudent handles POST /admin/students.
func (h *Handlers) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var st Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created := h.store.CreateStudent(st)
	h.emit("studentEnrolled", created)
	writeJSON(w, http.StatusCreated, created)
}

// DeleteStudent handles DELETE /admin/students/{id}.
func (h *Handlers) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid student id")
		return
	}

	dropped, err := h.store.DeleteStudent(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Student not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.emit("studentDropped", dropped)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CreateCourse handles POST /admin/courses.
func (h *Handlers) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var c Course
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created := h.store.CreateCourse(c)
	h.emit("courseCreated", created)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateCourse handles PUT /admin/courses/{id}.
func (h *Handlers) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid course id")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.store.UpdateCourse(id, req.Title)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Course not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.emit("courseUpdated", updated)
	writeJSON(w, http.StatusOK, updated)
}

// ListCourses handles GET /student/courses.
func (h *Handlers) ListCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Courses())
}

// emit pushes a domain event to the admin dashboard. Delivery problems are
// the gateway's to handle; a publish failure here is a marshal bug and is
// only logged.
func (h *Handlers) emit(eventType string, payload any) {
	if err := h.publisher.Publish(router.AdminDashboardRoom, eventType, payload); err != nil {
		h.logger.Error("Failed to publish domain event",
			slog.String("event", eventType),
			slog.Any("error", err),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}
