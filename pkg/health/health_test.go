package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubChecker struct {
	name    string
	healthy bool
}

func (s stubChecker) Name() string { return s.name }

func (s stubChecker) Check(ctx context.Context) Result {
	return Result{Healthy: s.healthy, CheckedAt: time.Now()}
}

// blockingChecker holds until its probe context expires
type blockingChecker struct{}

func (blockingChecker) Name() string { return "stuck" }

func (blockingChecker) Check(ctx context.Context) Result {
	<-ctx.Done()
	return Result{Healthy: false, Message: ctx.Err().Error(), CheckedAt: time.Now()}
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubProber struct {
	err error
}

func (s stubProber) Probe(ctx context.Context) error { return s.err }

func TestRegistryCheck_AllHealthy(t *testing.T) {
	registry := NewRegistry(
		stubChecker{name: "postgres", healthy: true},
		stubChecker{name: "objectstore", healthy: true},
	)

	report := registry.Check(context.Background())

	if report.Status != StatusReady {
		t.Errorf("expected status 'ready', got '%s'", report.Status)
	}
	if !report.Ready() {
		t.Error("report should be ready")
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
}

func TestRegistryCheck_OneUnhealthy(t *testing.T) {
	registry := NewRegistry(
		stubChecker{name: "postgres", healthy: true},
		stubChecker{name: "objectstore", healthy: false},
	)

	report := registry.Check(context.Background())

	if report.Status != StatusNotReady {
		t.Errorf("expected status 'not_ready', got '%s'", report.Status)
	}
	if report.Dependencies[0].Healthy != true || report.Dependencies[1].Healthy != false {
		t.Errorf("unexpected dependency health: %+v", report.Dependencies)
	}
}

func TestRegistryCheck_ReportOrderMatchesRegistration(t *testing.T) {
	registry := NewRegistry(
		stubChecker{name: "postgres", healthy: true},
		stubChecker{name: "objectstore", healthy: true},
	)

	report := registry.Check(context.Background())

	if report.Dependencies[0].Name != "postgres" || report.Dependencies[1].Name != "objectstore" {
		t.Errorf("dependencies out of registration order: %+v", report.Dependencies)
	}
}

func TestRegistryCheck_TimeoutBoundsStuckProbe(t *testing.T) {
	registry := NewRegistry(blockingChecker{}).WithTimeout(50 * time.Millisecond)

	start := time.Now()
	report := registry.Check(context.Background())
	elapsed := time.Since(start)

	if report.Status != StatusNotReady {
		t.Errorf("expected status 'not_ready', got '%s'", report.Status)
	}
	if elapsed > time.Second {
		t.Errorf("stuck probe held the report for %v", elapsed)
	}
}

func TestRegistryResults_CarriesMessages(t *testing.T) {
	registry := NewRegistry(NewPostgresChecker(stubPinger{err: errors.New("connection refused")}))

	results := registry.Results(context.Background())

	result, ok := results["postgres"]
	if !ok {
		t.Fatal("expected a postgres result")
	}
	if result.Healthy {
		t.Error("expected unhealthy result")
	}
	if result.Message == "" {
		t.Error("expected a failure message")
	}
}

func TestPostgresChecker(t *testing.T) {
	checker := NewPostgresChecker(stubPinger{})

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if checker.Name() != "postgres" {
		t.Errorf("expected name 'postgres', got '%s'", checker.Name())
	}
}

func TestPostgresChecker_QueryFailure(t *testing.T) {
	checker := NewPostgresChecker(stubPinger{err: errors.New("too many connections")})

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("expected unhealthy on query failure")
	}
}

func TestObjectStoreChecker(t *testing.T) {
	checker := NewObjectStoreChecker(stubProber{})

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if checker.Name() != "objectstore" {
		t.Errorf("expected name 'objectstore', got '%s'", checker.Name())
	}
}

func TestObjectStoreChecker_ProbeFailure(t *testing.T) {
	checker := NewObjectStoreChecker(stubProber{err: errors.New("breaker open")})

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("expected unhealthy on probe failure")
	}
}

func TestReadyHandler(t *testing.T) {
	registry := NewRegistry(
		stubChecker{name: "postgres", healthy: true},
		stubChecker{name: "objectstore", healthy: true},
	)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler(registry)(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var report Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report.Status != StatusReady {
		t.Errorf("expected ready status, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Errorf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	registry := NewRegistry(
		stubChecker{name: "postgres", healthy: false},
		stubChecker{name: "objectstore", healthy: true},
	)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler(registry)(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var report Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report.Dependencies[0].Healthy {
		t.Error("postgres should report unhealthy in the body")
	}
}

func TestLiveHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()

	LiveHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
}
