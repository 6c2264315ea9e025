package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/auth"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/control"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device/devicetest"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/logging"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/schedule"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// ============================================================================
// Mocks
// ============================================================================

type stubDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *stubDispatcher) record(action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, action)
	return d.err
}

func (d *stubDispatcher) Pair(context.Context, string, string) error { return d.record("pair") }
func (d *stubDispatcher) Control(context.Context, string, device.Delta) error {
	return d.record("control")
}
func (d *stubDispatcher) Unpair(context.Context, string) error    { return d.record("unpair") }
func (d *stubDispatcher) GetStatus(context.Context, string) error { return d.record("get_status") }

type mockSchedules struct {
	mu      sync.Mutex
	created []schedule.Draft
	status  schedule.Status
	err     error
}

func (m *mockSchedules) result(ownerID, id string, d schedule.Draft) (schedule.Schedule, error) {
	if m.err != nil {
		return schedule.Schedule{}, m.err
	}
	return schedule.Schedule{
		ID:            id,
		OwnerID:       ownerID,
		DeviceID:      d.DeviceID,
		Name:          d.Name,
		ScheduledTime: d.ScheduledTime,
		Timezone:      d.Timezone,
		Status:        schedule.StatusActive,
		Action:        d.Action,
		Recurrence:    d.Recurrence,
	}, nil
}

func (m *mockSchedules) Create(_ context.Context, ownerID string, d schedule.Draft) (schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, d)
	return m.result(ownerID, "S1", d)
}

func (m *mockSchedules) Update(_ context.Context, ownerID, id string, d schedule.Draft) (schedule.Schedule, error) {
	return m.result(ownerID, id, d)
}

func (m *mockSchedules) Delete(context.Context, string, string) error { return m.err }

func (m *mockSchedules) Get(_ context.Context, ownerID, id string) (schedule.Schedule, error) {
	return m.result(ownerID, id, schedule.Draft{Name: "Evening"})
}

func (m *mockSchedules) ListByOwner(_ context.Context, ownerID string) ([]schedule.Schedule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return nil, nil
}

func (m *mockSchedules) SetStatus(_ context.Context, ownerID, id string, status schedule.Status) (schedule.Schedule, error) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	sc, err := m.result(ownerID, id, schedule.Draft{Name: "Evening"})
	sc.Status = status
	return sc, err
}

type stubHealth struct{ err error }

func (h stubHealth) HealthCheck(context.Context) error { return h.err }

// ============================================================================
// Helpers
// ============================================================================

type testEnv struct {
	server     *Server
	handler    http.Handler
	repo       *devicetest.Repository
	dispatcher *stubDispatcher
	schedules  *mockSchedules
}

func onlineTwin(t *testing.T, owner, id string) device.Twin {
	t.Helper()
	now := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	twin, err := device.New(owner, id, device.Descriptor{Name: "Desk lamp", Type: "bulb"}, now)
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	return twin.SetConnectionStatus(true, now)
}

func newTestEnv(t *testing.T, health map[string]HealthChecker, twins ...device.Twin) *testEnv {
	t.Helper()

	repo := devicetest.NewRepository(twins...)
	dispatcher := &stubDispatcher{}
	svc := control.NewService(repo, dispatcher, control.Options{}, nil)
	schedules := &mockSchedules{}

	srv, err := New(Deps{
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: "siamp-test"}},
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Devices:   svc,
		Schedules: schedules,
		Metrics:   metrics.New(),
		Health:    health,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc.SetNotifier(srv.Hub())

	return &testEnv{
		server:     srv,
		handler:    srv.Handler(),
		repo:       repo,
		dispatcher: dispatcher,
		schedules:  schedules,
	}
}

func tokenFor(t *testing.T, owner string) string {
	t.Helper()
	token, err := auth.GenerateToken(owner, testSecret, "siamp-test", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, owner))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var e Error
	decodeBody(t, rec, &e)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
}

// ============================================================================
// Server
// ============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Default()
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Devices: &control.Service{}, Schedules: &mockSchedules{}}},
		{"no devices", Deps{Logger: log, Schedules: &mockSchedules{}}},
		{"no schedules", Deps{Logger: log, Devices: &control.Service{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"all ok", map[string]HealthChecker{"database": stubHealth{}, "mqtt": stubHealth{}}, http.StatusOK, "ok"},
		{"mqtt down", map[string]HealthChecker{"database": stubHealth{}, "mqtt": stubHealth{err: errors.New("down")}}, http.StatusServiceUnavailable, "degraded"},
		{"nothing registered", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.health)
			rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp HealthResponse
			decodeBody(t, rec, &resp)
			if resp.Status != tt.wantBody {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantBody)
			}
			if len(resp.Components) != len(tt.health) {
				t.Errorf("components = %v", resp.Components)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("missing token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/devices", "", nil)
		wantError(t, rec, http.StatusUnauthorized, ErrCodeUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.GenerateToken("U1", "another-secret-another-secret-xx", "siamp-test", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		wantError(t, rec, http.StatusUnauthorized, ErrCodeUnauthenticated)
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "abc123")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
			t.Errorf("X-Request-ID = %q, want abc123", got)
		}
	})
}

// ============================================================================
// Devices
// ============================================================================

func TestPairDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/devices", "U1", map[string]string{
		"deviceId": "D1",
		"name":     "Desk lamp",
		"type":     "bulb",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var view twinView
	decodeBody(t, rec, &view)
	if view.DeviceID != "D1" || view.OwnerID != "U1" || view.Name != "Desk lamp" {
		t.Errorf("view = %+v", view)
	}
	if view.State.Power != device.PowerOff || view.IsConnected {
		t.Errorf("new twin state = %+v connected=%v", view.State, view.IsConnected)
	}

	t.Run("again is ALREADY_PAIRED", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/devices", "U2", map[string]string{"deviceId": "D1", "name": "Mine"})
		wantError(t, rec, http.StatusConflict, string(failure.CodeAlreadyPaired))
	})

	t.Run("bad JSON", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/devices", "U1", "{")
		wantError(t, rec, http.StatusBadRequest, string(failure.CodeValidation))
	})

	t.Run("missing deviceId", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/devices", "U1", map[string]string{"name": "x"})
		wantError(t, rec, http.StatusBadRequest, string(failure.CodeValidation))
	})
}

func TestListAndGetDevice(t *testing.T) {
	env := newTestEnv(t, nil, onlineTwin(t, "U1", "D1"), onlineTwin(t, "U2", "D2"))

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "U1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list struct {
		Devices []twinView `json:"devices"`
		Count   int        `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 || list.Devices[0].DeviceID != "D1" {
		t.Errorf("list = %+v, want only D1", list)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"own device", "/api/v1/devices/D1", http.StatusOK, ""},
		{"someone else's", "/api/v1/devices/D2", http.StatusForbidden, string(failure.CodeUnauthorized)},
		{"unknown", "/api/v1/devices/D9", http.StatusNotFound, string(failure.CodeNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "U1", nil)
			if tt.wantCode == "" {
				if rec.Code != tt.wantStatus {
					t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
				}
				return
			}
			wantError(t, rec, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestControlDevice(t *testing.T) {
	offline := onlineTwin(t, "U1", "D2").SetConnectionStatus(false, time.Now())
	env := newTestEnv(t, nil, onlineTwin(t, "U1", "D1"), offline)

	rec := env.do(t, http.MethodPut, "/api/v1/devices/D1/state", "U1", map[string]any{"on": true, "brightness": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var view twinView
	decodeBody(t, rec, &view)
	if view.State.Power != device.PowerOn || view.State.Brightness != 60 {
		t.Errorf("state = %+v, want on/60", view.State)
	}
	if view.Pending == nil {
		t.Error("pending = nil, want the predicted command")
	}

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   failure.Code
	}{
		{"offline", "/api/v1/devices/D2/state", map[string]any{"on": true}, http.StatusConflict, failure.CodeOffline},
		{"brightness out of range", "/api/v1/devices/D1/state", map[string]any{"brightness": 101}, http.StatusUnprocessableEntity, failure.CodeOutOfRange},
		{"empty delta", "/api/v1/devices/D1/state", map[string]any{}, http.StatusBadRequest, failure.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, "U1", tt.body)
			wantError(t, rec, tt.wantStatus, string(tt.wantCode))
		})
	}
}

func TestControlDevice_BrokerDown(t *testing.T) {
	env := newTestEnv(t, nil, onlineTwin(t, "U1", "D1"))
	env.dispatcher.err = errors.New("not connected")

	rec := env.do(t, http.MethodPut, "/api/v1/devices/D1/state", "U1", map[string]any{"on": true})
	wantError(t, rec, http.StatusBadGateway, string(failure.CodeCommunicationError))
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t, nil, onlineTwin(t, "U1", "D1"))

	rec := env.do(t, http.MethodPatch, "/api/v1/devices/D1", "U1", map[string]any{
		"name":    "Reading lamp",
		"network": map[string]string{"ssid": "home", "ipAddress": "10.0.0.7"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var view twinView
	decodeBody(t, rec, &view)
	if view.Name != "Reading lamp" || view.Network.SSID != "home" {
		t.Errorf("view = %+v", view)
	}
}

func TestRequestStatusAndUnpair(t *testing.T) {
	env := newTestEnv(t, nil, onlineTwin(t, "U1", "D1"))

	rec := env.do(t, http.MethodPost, "/api/v1/devices/D1/status", "U1", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status request = %d, want 202", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/devices/D1", "U1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unpair = %d, want 204", rec.Code)
	}
	if _, ok := env.repo.Get("D1"); ok {
		t.Error("twin still stored after unpair")
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/devices/D1", "U1", nil)
	wantError(t, rec, http.StatusNotFound, string(failure.CodeNotFound))
}

// ============================================================================
// Schedules
// ============================================================================

func TestCreateSchedule(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", "U1", map[string]any{
		"deviceId":        "D1",
		"name":            "Evening",
		"scheduledTime":   "19:00",
		"timezone":        "Europe/Madrid",
		"scheduledAction": map[string]any{"state": "on", "brightness": 40},
		"recurrence": map[string]any{
			"type":       "custom",
			"daysOfWeek": map[string]bool{"monday": true, "friday": true},
			"endDate":    "2026-12-31",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	if len(env.schedules.created) != 1 {
		t.Fatalf("Create calls = %d, want 1", len(env.schedules.created))
	}
	d := env.schedules.created[0]
	if d.Recurrence.Type != schedule.RecurrenceCustom || d.Recurrence.DaysOfWeek == nil {
		t.Fatalf("recurrence = %+v", d.Recurrence)
	}
	if !d.Recurrence.DaysOfWeek.Has(time.Friday) || d.Recurrence.DaysOfWeek.Has(time.Sunday) {
		t.Errorf("days = %v", *d.Recurrence.DaysOfWeek)
	}
	if d.Recurrence.EndDate == nil || d.Recurrence.EndDate.Format(schedule.DateLayout) != "2026-12-31" {
		t.Errorf("endDate = %v", d.Recurrence.EndDate)
	}

	var sc schedule.Schedule
	decodeBody(t, rec, &sc)
	if sc.OwnerID != "U1" || sc.Action.Brightness != 40 {
		t.Errorf("response = %+v", sc)
	}
}

func TestScheduleFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   failure.Code
	}{
		{"conflict", failure.Wrap(failure.CodeConflict, "name taken", nil), http.StatusConflict, failure.CodeConflict},
		{"forbidden", failure.Unauthorized("not yours"), http.StatusForbidden, failure.CodeUnauthorized},
		{"plain error is internal", errors.New("disk on fire"), http.StatusInternalServerError, failure.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.schedules.err = tt.err

			rec := env.do(t, http.MethodGet, "/api/v1/schedules", "U1", nil)
			wantError(t, rec, tt.wantStatus, string(tt.wantCode))
			if tt.wantCode == failure.CodeInternal && bytes.Contains(rec.Body.Bytes(), []byte("disk on fire")) {
				t.Error("internal cause leaked to the client")
			}
		})
	}
}

func TestScheduleRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/schedules", "U1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var list struct {
		Schedules []schedule.Schedule `json:"schedules"`
		Count     int                 `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Schedules == nil || list.Count != 0 {
		t.Errorf("empty list = %+v, want [] and 0", list)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/schedules/S1", "U1", nil); rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/v1/schedules/S1", "U1", map[string]string{"name": "Later"}); rec.Code != http.StatusOK {
		t.Errorf("update = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/schedules/S1/status", "U1", map[string]string{"status": "inactive"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.schedules.status != schedule.StatusInactive {
		t.Errorf("SetStatus got %q", env.schedules.status)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/schedules/S1", "U1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", rec.Code)
	}
}
