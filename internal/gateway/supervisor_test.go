package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/boltbuttar/campusgate/internal/gateway"
	"github.com/boltbuttar/campusgate/internal/router"
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/state"
	"github.com/boltbuttar/campusgate/pkg/state/registry"
	"github.com/google/uuid"
)

const testSecret = "supervisor-test-secret"

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeTransport struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close(err error) {}

// lastAck decodes the most recent joinResult frame delivered to the client.
func (f *fakeTransport) lastAck(t *testing.T) (room string, ok bool, reason string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sent) == 0 {
		t.Fatal("Expected a joinResult frame, got none")
	}
	var msg router.Message
	if err := json.Unmarshal(f.sent[len(f.sent)-1], &msg); err != nil {
		t.Fatalf("Failed to unmarshal frame: %v", err)
	}
	if msg.Event != gateway.EventJoinResult {
		t.Fatalf("Expected joinResult frame, got '%s'", msg.Event)
	}
	var ack struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatalf("Failed to unmarshal ack payload: %v", err)
	}
	return msg.Target, ack.OK, ack.Reason
}

type fixture struct {
	reg        *registry.InMemoryRegistry
	router     *router.Router
	supervisor *gateway.Supervisor
	issuer     *auth.Issuer
}

func newFixture() *fixture {
	logger := newTestLogger()
	reg := registry.NewInMemoryRegistry(logger)
	policy := router.Policy{router.AdminDashboardRoom: auth.RoleAdmin}
	rt := router.NewRouter(logger, reg, policy)
	return &fixture{
		reg:        reg,
		router:     rt,
		supervisor: gateway.NewSupervisor(logger, reg, rt, auth.NewVerifier(testSecret)),
		issuer:     auth.NewIssuer(testSecret, time.Hour),
	}
}

func (fx *fixture) open(t *testing.T) *fakeTransport {
	t.Helper()
	ft := newFakeTransport()
	if _, err := fx.supervisor.HandleOpen(ft, "127.0.0.1"); err != nil {
		t.Fatalf("HandleOpen failed: %v", err)
	}
	return ft
}

func (fx *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := fx.issuer.Issue(string(role)+"@campus.local", role)
	if err != nil {
		t.Fatalf("Failed to issue test token: %v", err)
	}
	return token
}

func joinFrame(room, token string) []byte {
	payload := "{}"
	if token != "" {
		payload = fmt.Sprintf(`{"token":%q}`, token)
	}
	return []byte(fmt.Sprintf(`{"event":"joinRoom","target":%q,"payload":%s}`, room, payload))
}

// --- Scenario Tests ---

func TestJoinWithoutTokenDenied(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, ""))

	room, ok, reason := ft.lastAck(t)
	if room != router.AdminDashboardRoom || ok || reason != string(router.DenyNotAuthenticated) {
		t.Errorf("Expected Denied(notAuthenticated) for %s, got ok=%v reason=%s", room, ok, reason)
	}
	// the connection stays open and unauthenticated
	conn, found := fx.reg.Get(ft.ID())
	if !found || conn.Auth != state.Unauthenticated {
		t.Error("Connection should remain registered and unauthenticated after denial")
	}
}

func TestJoinWithAdminToken(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, fx.token(t, auth.RoleAdmin)))

	_, ok, _ := ft.lastAck(t)
	if !ok {
		t.Fatal("Expected admin join to succeed")
	}

	// the joined dashboard receives subsequent broadcasts
	delivered := fx.router.Broadcast(router.AdminDashboardRoom, "studentEnrolled", json.RawMessage(`{"id":42}`))
	if delivered != 1 {
		t.Errorf("Expected 1 delivery to the joined admin, got %d", delivered)
	}
}

func TestJoinWithStudentTokenForbidden(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, fx.token(t, auth.RoleStudent)))

	_, ok, reason := ft.lastAck(t)
	if ok || reason != string(router.DenyForbidden) {
		t.Errorf("Expected Denied(forbidden), got ok=%v reason=%s", ok, reason)
	}

	// the student's claim is cached: it can still join open rooms
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame("course-7", ""))
	_, ok, _ = ft.lastAck(t)
	if !ok {
		t.Error("Expected open-room join to succeed for student")
	}
	if delivered := fx.router.Broadcast("course-7", "courseUpdated", json.RawMessage(`{}`)); delivered != 1 {
		t.Errorf("Expected student to receive open-room broadcast, got %d deliveries", delivered)
	}
}

func TestJoinWithInvalidTokenRejected(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	other := auth.NewIssuer("some-other-secret", time.Hour)
	forged, _ := other.Issue("admin@campus.local", auth.RoleAdmin)
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, forged))

	_, ok, reason := ft.lastAck(t)
	if ok || reason != "signatureInvalid" {
		t.Errorf("Expected rejection 'signatureInvalid', got ok=%v reason=%s", ok, reason)
	}
	conn, _ := fx.reg.Get(ft.ID())
	if conn.Auth != state.Unauthenticated {
		t.Error("Rejected token must leave the connection unauthenticated")
	}
}

func TestJoinWithExpiredTokenRejected(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	stale := auth.NewIssuer(testSecret, -time.Minute)
	expired, _ := stale.Issue("admin@campus.local", auth.RoleAdmin)
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, expired))

	_, ok, reason := ft.lastAck(t)
	if ok || reason != "expired" {
		t.Errorf("Expected rejection 'expired', got ok=%v reason=%s", ok, reason)
	}
}

func TestAuthenticationIsSticky(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	// authenticate as student on an open room join
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame("course-7", fx.token(t, auth.RoleStudent)))
	_, ok, _ := ft.lastAck(t)
	if !ok {
		t.Fatal("Expected student open-room join to succeed")
	}

	// a later admin token on the same connection is ignored
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame(router.AdminDashboardRoom, fx.token(t, auth.RoleAdmin)))
	_, ok, reason := ft.lastAck(t)
	if ok || reason != string(router.DenyForbidden) {
		t.Errorf("Expected sticky student identity to be forbidden, got ok=%v reason=%s", ok, reason)
	}
}

func TestJoinWithRoomInPayload(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	// the room name may ride inside the payload instead of the target field
	frame := fmt.Sprintf(`{"event":"joinRoom","payload":{"room":"lobby","token":%q}}`, fx.token(t, auth.RoleStudent))
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), []byte(frame))

	room, ok, _ := ft.lastAck(t)
	if !ok || room != "lobby" {
		t.Fatalf("Expected successful join of 'lobby' via payload room, got ok=%v room=%s", ok, room)
	}
	if members := fx.router.Members("lobby"); len(members) != 1 {
		t.Errorf("Expected 1 member in lobby, got %d", len(members))
	}
	conn, _ := fx.reg.Get(ft.ID())
	if conn.Auth != state.Authenticated {
		t.Error("Token carried in the payload should authenticate the connection")
	}
}

func TestLeaveRoom(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame("lobby", ""))
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), []byte(`{"event":"leaveRoom","target":"lobby"}`))

	if members := fx.router.Members("lobby"); len(members) != 0 {
		t.Errorf("Expected 0 members after leave, got %d", len(members))
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), joinFrame("lobby", ""))

	fx.supervisor.HandleClose(ft.ID(), nil)
	fx.supervisor.HandleClose(ft.ID(), nil) // disconnect signals can race

	if _, found := fx.reg.Get(ft.ID()); found {
		t.Error("Connection still registered after close")
	}
	if members := fx.router.Members("lobby"); len(members) != 0 {
		t.Errorf("Dangling membership survived disconnect: %d members", len(members))
	}
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	fx := newFixture()
	ft := fx.open(t)

	fx.supervisor.HandleMessage(context.Background(), ft.ID(), []byte(`{not json`))
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), []byte(`{"event":"teleport"}`))
	fx.supervisor.HandleMessage(context.Background(), ft.ID(), []byte(`{"event":"joinRoom"}`)) // no room

	if len(ft.sent) != 0 {
		t.Errorf("Malformed frames should be dropped silently, got %d replies", len(ft.sent))
	}
	if _, found := fx.reg.Get(ft.ID()); !found {
		t.Error("Connection should survive malformed frames")
	}
}
