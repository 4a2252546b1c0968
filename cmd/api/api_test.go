package main

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/resource-scheduler/internal/config"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-for-integration"

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      testSecret,
		WorkspaceRPS:   100,
		WorkspaceBurst: 100,
		ProviderRPS:    10,
		ProviderBurst:  1,
	}
}

func testRegistry() *provider.Registry {
	r := provider.NewRegistry(10, 1)
	noop := func(ctx context.Context, id string) error { return nil }
	r.Register(models.ProviderAWS, models.ResourceEC2, models.ActionStart, noop)
	r.Register(models.ProviderAWS, models.ResourceEC2, models.ActionStop, noop)
	return r
}

func mintToken(t *testing.T, workspaceID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "user-1",
		"workspace_id": workspaceID,
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// TestAPI_CreateThenListSchedules builds the full router with a sqlmock-backed DB,
// creates a schedule with a workspace token, then lists it.
func TestAPI_CreateThenListSchedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// Saturday; the next weekday 19:00 in Sao Paulo is Monday 22:00 UTC.
	now := time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC)
	next := time.Date(2024, 6, 17, 22, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "workspace_id", "provider", "resource_type", "resource_id", "resource_name", "action",
		"schedule_type", "schedule_time", "timezone", "is_enabled",
		"last_run_at", "last_run_status", "last_run_error", "next_run_at", "claimed_until",
		"created_at", "updated_at",
	}
	row := []driver.Value{
		"6f1c2d9e-8a4b-4c3d-9e2f-1a2b3c4d5e6f", "ws-1", "aws", "ec2", "i-0abc", "web-1", "stop",
		"weekdays", "19:00", "America/Sao_Paulo", true,
		nil, nil, nil, next, nil, now, now,
	}

	mock.ExpectQuery(`INSERT INTO resource_schedules`).
		WithArgs(sqlmock.AnyArg(), "ws-1", "aws", "ec2", "i-0abc", "web-1", "stop",
			"weekdays", "19:00", "America/Sao_Paulo", true, next, now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery(`SELECT id, workspace_id, provider`).
		WithArgs("ws-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM resource_schedules`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	r := newRouter(db, testConfig(), deps{Registry: testRegistry(), Now: func() time.Time { return now }})
	srv := httptest.NewServer(r)
	defer srv.Close()
	token := mintToken(t, "ws-1")

	// 1) Create
	body, _ := json.Marshal(map[string]string{
		"provider": "aws", "resource_type": "ec2", "resource_id": "i-0abc", "resource_name": "web-1",
		"action": "stop", "schedule_type": "weekdays", "schedule_time": "19:00", "timezone": "America/Sao_Paulo",
	})
	req, _ := http.NewRequest("POST", srv.URL+"/schedules", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	createResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /schedules status: got %d, want 201", createResp.StatusCode)
	}

	// 2) List
	req, _ = http.NewRequest("GET", srv.URL+"/schedules", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /schedules status: got %d, want 200", listResp.StatusCode)
	}
	var list struct {
		Items []models.Schedule `json:"items"`
		Total int               `json:"total"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ResourceID != "i-0abc" {
		t.Errorf("unexpected list: %+v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAPI_SchedulesRequireToken(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, testConfig(), deps{Registry: testRegistry()}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/schedules")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /schedules without token: got %d, want 401", resp.StatusCode)
	}
}

func TestAPI_SchedulerStatusWithoutRedis(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, testConfig(), deps{Registry: testRegistry()}))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/scheduler/status", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "ws-1"))
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /scheduler/status: got %d, want 503", resp.StatusCode)
	}
}

// TestAPI_Health is a quick smoke test for the health endpoint.
func TestAPI_Health(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, testConfig(), deps{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status: got %d, want 200", resp.StatusCode)
	}
}

// TestAPI_Ready checks that /ready pings the DB and returns 200 when DB is reachable.
func TestAPI_Ready(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, testConfig(), deps{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /ready status: got %d, want 200", resp.StatusCode)
	}
}

func TestAPI_Metrics(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, testConfig(), deps{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status: got %d, want 200", resp.StatusCode)
	}
}
