package validation

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func testConfig(t *testing.T, localSD string) *core.Config {
	t.Helper()
	return &core.Config{
		ServicePriority:   []string{core.BackendReplicate, core.BackendLocalSD},
		ReplicateBaseURL:  "http://127.0.0.1:1",
		LocalSDURL:        localSD,
		OllamaURL:         "http://127.0.0.1:1",
		DownloadsDir:      t.TempDir(),
		ReplicateAPIToken: "",
	}
}

func stepByName(t *testing.T, r Result, name string) Step {
	t.Helper()
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not found", name)
	return Step{}
}

func TestSuite_LocalBackendOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	var out bytes.Buffer
	res := NewSuite(cfg, srv.Client()).WithOutput(&out).Validate(context.Background())

	if !res.Success {
		t.Fatalf("expected success, got %s", res.Summary())
	}
	if s := stepByName(t, res, "Credentials"); s.Status != StepWarning {
		t.Errorf("Credentials status = %v, want warning", s.Status)
	}
	if s := stepByName(t, res, "Replicate API"); s.Status != StepSkipped {
		t.Errorf("Replicate API status = %v, want skipped", s.Status)
	}
	if s := stepByName(t, res, "Local Diffusion Server"); s.Status != StepPassed {
		t.Errorf("Local Diffusion Server status = %v (%v), want passed", s.Status, s.Error)
	}
	if s := stepByName(t, res, "Downloads Directory"); s.Status != StepSkipped {
		t.Errorf("Downloads Directory status = %v, want skipped", s.Status)
	}
	if !strings.Contains(out.String(), "Ready") {
		t.Errorf("output missing summary:\n%s", out.String())
	}
}

func TestSuite_NoUsableBackend(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.ServicePriority = []string{core.BackendReplicate}

	res := NewSuite(cfg, nil).WithShowProgress(false).Validate(context.Background())
	if res.Success {
		t.Fatal("expected failure without credentials")
	}
	err := res.FirstError()
	if core.GetErrorCode(err) != core.ErrCodeMissingAuth {
		t.Errorf("FirstError code = %q, want %q", core.GetErrorCode(err), core.ErrCodeMissingAuth)
	}
}

func TestSuite_DisabledPriority(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.EnabledBackends = []string{core.BackendOpenAI}

	res := NewSuite(cfg, nil).WithShowProgress(false).WithFailFast(true).Validate(context.Background())
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.Steps) != 1 {
		t.Errorf("fail fast ran %d steps, want 1", len(res.Steps))
	}
}

func TestSuite_UnreachableIsWarning(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	res := NewSuite(cfg, nil).WithShowProgress(false).WithTimeout(500 * time.Millisecond).Validate(context.Background())

	s := stepByName(t, res, "Local Diffusion Server")
	if s.Status != StepWarning {
		t.Errorf("status = %v, want warning", s.Status)
	}
	if !res.Success {
		t.Errorf("warnings should not fail the suite: %s", res.Summary())
	}
}

func TestSuite_DiskSpace(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.SaveImages = true

	res := NewSuite(cfg, nil).WithShowProgress(false).WithTimeout(200 * time.Millisecond).WithMinFreeBytes(1).Validate(context.Background())
	if s := stepByName(t, res, "Downloads Directory"); s.Status != StepPassed {
		t.Errorf("status = %v (%v), want passed", s.Status, s.Error)
	}

	res = NewSuite(cfg, nil).WithShowProgress(false).WithTimeout(200 * time.Millisecond).WithMinFreeBytes(1 << 62).Validate(context.Background())
	if s := stepByName(t, res, "Downloads Directory"); s.Status != StepFailed {
		t.Errorf("status = %v, want failed", s.Status)
	}
}

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status StepStatus
		want   string
	}{
		{StepPending, "pending"},
		{StepPassed, "passed"},
		{StepFailed, "failed"},
		{StepWarning, "warning"},
		{StepSkipped, "skipped"},
		{StepStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
