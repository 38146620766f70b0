package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestRun exercises the real run() function end-to-end: OTel, River, the
// HTTP server, and graceful shutdown. It uses the stdout OTel exporter,
// simulation mode and a temp database to avoid external dependencies.
func TestRun(t *testing.T) {
	t.Setenv("DATABASE_PATH", t.TempDir()+"/test-run.db")
	t.Setenv("PORT", "19876")
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_ENVIRONMENT", "test")
	t.Setenv("SIMULATION_MODE", "true")

	// Discard OTel stdout exporter output during the test.
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	serverURL := "http://localhost:19876"
	ready := false
	for i := 0; i < 50; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/instances", nil)
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server did not start within 5 seconds")
	}

	// Trigger a simulated provisioning run through the real stack.
	body := `{
		"companyName": "Acme Corp",
		"ownerEmail": "owner@acme.com",
		"ownerName": "Ada Acme",
		"ownerPassword": "hunter2hunter2",
		"plan": "trial",
		"requestId": "req-smoke-1"
	}`
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, serverURL+"/api/v1/instances", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/v1/instances failed: %v", err)
	}

	var accepted struct {
		InstanceID string `json:"instanceId"`
		Status     string `json:"status"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&accepted); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if accepted.InstanceID == "" || accepted.Status != "provisioning" {
		t.Fatalf("accepted = %+v", accepted)
	}

	// Wait for the background job to finish the simulated run.
	var instance struct {
		Status string `json:"status"`
		Stage  string `json:"stage"`
	}
	for i := 0; i < 100; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/instances/"+accepted.InstanceID, nil)
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil && resp.StatusCode == http.StatusOK {
			if decodeErr := json.NewDecoder(resp.Body).Decode(&instance); decodeErr == nil && instance.Status == "active" {
				resp.Body.Close()
				break
			}
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	if instance.Status != "active" {
		t.Fatalf("instance status = %q, want active", instance.Status)
	}
	if instance.Stage != "complete" {
		t.Errorf("instance stage = %q, want complete", instance.Stage)
	}

	// Send SIGINT to trigger graceful shutdown.
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not exit within 15 seconds")
	}
}

// TestRun_InvalidDB verifies run() returns an error for an invalid database path.
func TestRun_InvalidDB(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/nonexistent/path/db.sqlite")
	t.Setenv("PORT", "19877")
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_ENVIRONMENT", "test")

	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	if err := run(); err == nil {
		t.Fatal("expected error for invalid database path, got nil")
	}
}

// TestRun_InvalidConfig verifies run() rejects live mode without credentials.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SIMULATION_MODE", "false")
	t.Setenv("PORT", "19878")

	if err := run(); err == nil {
		t.Fatal("expected error for live mode without DNS credentials")
	}
}
