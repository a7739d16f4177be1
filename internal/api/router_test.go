package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/auth"
	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/jobs"
	"github.com/halverson/custodian/internal/locks"
	"github.com/halverson/custodian/internal/maintenance"
	"github.com/halverson/custodian/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *jobs.Tracker, *maintenance.Coordinator) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.TrackedJob{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	tracker := jobs.NewTracker(repository.NewJobRepository(db), nil)
	lockManager := locks.NewWriteLockManager(nil)
	jobsCfg := config.JobsConfig{DefaultTimeout: time.Minute, DrainSafetyMultiplier: 1.5}
	coordinator := maintenance.NewCoordinator(tracker, jobsCfg, nil)

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{Secret: testSecret, TokenTTL: time.Minute},
		Jobs:   jobsCfg,
	}
	return SetupRouter(tracker, lockManager, coordinator, nil, cfg, nil), tracker, coordinator
}

func doJSON(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterJobConflictMapsTo409(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := `{"job_id":"j1","operation_type":"refresh","username":"u","repo_alias":"repoX"}`
	if w := doJSON(router, http.MethodPost, "/api/v1/jobs", body, ""); w.Code != http.StatusCreated {
		t.Fatalf("first registration = %d: %s", w.Code, w.Body.String())
	}

	dup := `{"job_id":"j2","operation_type":"refresh","username":"u","repo_alias":"repoX"}`
	w := doJSON(router, http.MethodPost, "/api/v1/jobs", dup, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate registration = %d, want 409", w.Code)
	}

	var resp struct {
		ExistingJobID string `json:"existing_job_id"`
		OperationType string `json:"operation_type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode 409 body: %v", err)
	}
	if resp.ExistingJobID != "j1" || resp.OperationType != "refresh" {
		t.Errorf("409 body = %+v, want existing j1/refresh", resp)
	}
}

func TestRegisterRejectedInMaintenance(t *testing.T) {
	router, _, coordinator := newTestRouter(t)
	coordinator.EnterMaintenanceMode()

	body := `{"job_id":"j1","operation_type":"refresh","username":"u"}`
	if w := doJSON(router, http.MethodPost, "/api/v1/jobs", body, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("registration in maintenance = %d, want 503", w.Code)
	}

	coordinator.ExitMaintenanceMode()
	if w := doJSON(router, http.MethodPost, "/api/v1/jobs", body, ""); w.Code != http.StatusCreated {
		t.Errorf("registration after exit = %d, want 201", w.Code)
	}
}

func TestMaintenanceEndpointsRequireToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	if w := doJSON(router, http.MethodPost, "/api/v1/maintenance/enter", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/api/v1/maintenance/enter", "", "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d, want 401", w.Code)
	}

	wrongIssuer, err := auth.NewTokenIssuer("some-other-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	wrongToken, err := wrongIssuer.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if w := doJSON(router, http.MethodPost, "/api/v1/maintenance/enter", "", wrongToken); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong-secret token = %d, want 401", w.Code)
	}

	issuer, err := auth.NewTokenIssuer(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if w := doJSON(router, http.MethodPost, "/api/v1/maintenance/enter", "", token); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200: %s", w.Code, token)
	}
}

func TestDrainTimeoutEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	issuer, err := auth.NewTokenIssuer(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.Issue()
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(router, http.MethodGet, "/api/v1/maintenance/drain-timeout", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("drain-timeout = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		MaxJobTimeoutSeconds   int `json:"max_job_timeout_seconds"`
		RecommendedWaitSeconds int `json:"recommended_wait_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.MaxJobTimeoutSeconds != 60 {
		t.Errorf("max_job_timeout_seconds = %d, want 60", resp.MaxJobTimeoutSeconds)
	}
	if resp.RecommendedWaitSeconds != 90 {
		t.Errorf("recommended_wait_seconds = %d, want 90", resp.RecommendedWaitSeconds)
	}
}

func TestLockStatusEndpoint(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&domain.TrackedJob{}); err != nil {
		t.Fatal(err)
	}
	tracker := jobs.NewTracker(repository.NewJobRepository(db), nil)
	lockManager := locks.NewWriteLockManager(nil)
	jobsCfg := config.JobsConfig{DefaultTimeout: time.Minute, DrainSafetyMultiplier: 1.5}
	coordinator := maintenance.NewCoordinator(tracker, jobsCfg, nil)
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{Secret: testSecret, TokenTTL: time.Minute},
		Jobs:   jobsCfg,
	}
	router := SetupRouter(tracker, lockManager, coordinator, nil, cfg, nil)

	lockManager.Acquire("repoX", "job-7")

	w := doJSON(router, http.MethodGet, "/api/v1/locks/repoX", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("lock status = %d", w.Code)
	}
	var resp struct {
		Locked bool   `json:"locked"`
		Owner  string `json:"owner"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Locked || resp.Owner != "job-7" {
		t.Errorf("lock status body = %+v, want locked by job-7", resp)
	}

	w = doJSON(router, http.MethodGet, "/api/v1/locks/other", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unlocked status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Locked {
		t.Error("unlocked alias reported locked")
	}
}
