package portal_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/boltbuttar/campusgate/internal/portal"
	"github.com/boltbuttar/campusgate/internal/router"
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/config"
)

const testSecret = "portal-test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type publishedEvent struct {
	room      string
	eventType string
	payload   any
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(room, eventType string, payload any) error {
	f.events = append(f.events, publishedEvent{room: room, eventType: eventType, payload: payload})
	return nil
}

func testCreds() config.PortalConfig {
	return config.PortalConfig{
		Admin:   config.CredentialConfig{Email: "admin@campus.local", Password: "hunter2"},
		Student: config.CredentialConfig{Email: "student@campus.local", Password: "letmein"},
	}
}

func newHandlers(pub *fakePublisher) *portal.Handlers {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	return portal.NewHandlers(newTestLogger(), portal.NewStore(), issuer, pub, testCreds())
}

func TestAdminLoginIssuesVerifiableToken(t *testing.T) {
	h := newHandlers(&fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"admin@campus.local","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	h.AdminLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body.Success || body.Token == "" {
		t.Fatal("Expected a token in the login response")
	}

	claim, err := auth.NewVerifier(testSecret).Verify(body.Token)
	if err != nil {
		t.Fatalf("Issued token failed verification: %v", err)
	}
	if claim.Role != auth.RoleAdmin || claim.Subject != "admin@campus.local" {
		t.Errorf("Unexpected claim: role=%s subject=%s", claim.Role, claim.Subject)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	h := newHandlers(&fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"admin@campus.local","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.AdminLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Success || body.Message == "" {
		t.Error("Expected {success:false, message} error shape")
	}
}

func TestCreateStudentPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandlers(pub)

	req := httptest.NewRequest(http.MethodPost, "/admin/students",
		strings.NewReader(`{"name":"Ada","email":"ada@campus.local"}`))
	rec := httptest.NewRecorder()
	h.CreateStudent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	if len(pub.events) != 1 {
		t.Fatalf("Expected exactly 1 published event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.room != router.AdminDashboardRoom || ev.eventType != "studentEnrolled" {
		t.Errorf("Unexpected event: room=%s type=%s", ev.room, ev.eventType)
	}
	student, ok := ev.payload.(portal.Student)
	if !ok {
		t.Fatalf("Expected Student payload, got %T", ev.payload)
	}
	if student.ID == 0 || student.Name != "Ada" {
		t.Errorf("Unexpected student payload: %+v", student)
	}
}

func TestUpdateCourse(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandlers(pub)

	// create a course first
	createReq := httptest.NewRequest(http.MethodPost, "/admin/courses",
		strings.NewReader(`{"code":"CS101","title":"Intro"}`))
	createRec := httptest.NewRecorder()
	h.CreateCourse(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", createRec.Code)
	}
	var created portal.Course
	if err := json.NewDecoder(createRec.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode created course: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/admin/courses/1",
		strings.NewReader(`{"title":"Intro to Programming"}`))
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.UpdateCourse(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(pub.events) != 2 || pub.events[1].eventType != "courseUpdated" {
		t.Errorf("Expected courseCreated then courseUpdated, got %+v", pub.events)
	}
}

func TestUpdateCourseNotFound(t *testing.T) {
	h := newHandlers(&fakePublisher{})

	req := httptest.NewRequest(http.MethodPut, "/admin/courses/99",
		strings.NewReader(`{"title":"x"}`))
	req.SetPathValue("id", "99")
	rec := httptest.NewRecorder()
	h.UpdateCourse(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestDeleteStudentPublishesDrop(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandlers(pub)

	createReq := httptest.NewRequest(http.MethodPost, "/admin/students",
		strings.NewReader(`{"name":"Ada","email":"ada@campus.local"}`))
	h.CreateStudent(httptest.NewRecorder(), createReq)

	req := httptest.NewRequest(http.MethodDelete, "/admin/students/1", nil)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.DeleteStudent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(pub.events) != 2 || pub.events[1].eventType != "studentDropped" {
		t.Errorf("Expected studentEnrolled then studentDropped, got %+v", pub.events)
	}
}

func TestListCourses(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandlers(pub)

	createReq := httptest.NewRequest(http.MethodPost, "/admin/courses",
		strings.NewReader(`{"code":"CS101","title":"Intro"}`))
	h.CreateCourse(httptest.NewRecorder(), createReq)

	req := httptest.NewRequest(http.MethodGet, "/student/courses", nil)
	rec := httptest.NewRecorder()
	h.ListCourses(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var courses []portal.Course
	if err := json.NewDecoder(rec.Body).Decode(&courses); err != nil {
		t.Fatalf("Failed to decode courses: %v", err)
	}
	if len(courses) != 1 || courses[0].Code != "CS101" {
		t.Errorf("Unexpected course list: %+v", courses)
	}
}
