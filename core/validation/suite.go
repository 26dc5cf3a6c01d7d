// Package validation runs the preflight checks printed before the server
// starts: which backends can actually serve, whether their endpoints answer,
// and whether there is room to keep images.
package validation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// StepStatus is the outcome of one check.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is one completed check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// Result summarizes a run of the suite. Warnings do not fail it.
type Result struct {
	Steps    []Step
	Passed   int
	Failed   int
	Warnings int
	Skipped  int
	Duration time.Duration
	Success  bool
}

// checkFunc returns the status, a short message and an optional detail error.
type checkFunc func(ctx context.Context) (StepStatus, string, error)

// Suite checks a loaded configuration.
type Suite struct {
	cfg          *core.Config
	connectivity *ConnectivityChecker
	minFree      int64
	output       io.Writer
	showProgress bool
	failFast     bool
}

// NewSuite creates a suite for cfg. client is used for the connectivity
// probes; nil builds one from cfg.
func NewSuite(cfg *core.Config, client *http.Client) *Suite {
	if client == nil {
		client = core.GetHTTPClient(cfg, 5*time.Second)
	}
	return &Suite{
		cfg:          cfg,
		connectivity: NewConnectivityChecker(client, 5*time.Second),
		minFree:      DefaultMinFreeBytes,
		output:       os.Stdout,
		showProgress: true,
	}
}

// WithOutput sets where progress is printed.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithShowProgress enables or disables printing.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithFailFast stops at the first failed check.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// WithMinFreeBytes overrides DefaultMinFreeBytes.
func (s *Suite) WithMinFreeBytes(n int64) *Suite {
	s.minFree = n
	return s
}

// WithTimeout bounds each connectivity probe.
func (s *Suite) WithTimeout(timeout time.Duration) *Suite {
	s.connectivity.timeout = timeout
	return s
}

// Validate runs every check in order.
func (s *Suite) Validate(ctx context.Context) Result {
	start := time.Now()
	if s.showProgress {
		s.printHeader("Visionboard Preflight")
	}

	checks := []struct {
		name string
		fn   checkFunc
	}{
		{"Backend Priority", s.checkPriority},
		{"Credentials", s.checkCredentials},
		{"Replicate API", s.checkReplicate},
		{"Local Diffusion Server", s.checkLocalSD},
		{"Language Model", s.checkLLM},
		{"Downloads Directory", s.checkDisk},
	}

	steps := make([]Step, 0, len(checks))
	for _, c := range checks {
		step := s.runStep(ctx, c.name, c.fn)
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

// usable returns the prioritized, enabled backends in order.
func (s *Suite) usable() []string {
	var out []string
	for _, name := range s.cfg.ServicePriority {
		if s.cfg.BackendEnabled(name) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Suite) wants(name string) bool {
	for _, b := range s.usable() {
		if b == name {
			return true
		}
	}
	return false
}

func (s *Suite) checkPriority(context.Context) (StepStatus, string, error) {
	usable := s.usable()
	if len(usable) == 0 {
		return StepFailed, "no prioritized backend is enabled",
			core.ErrInvalidValue("ENABLED_BACKENDS", strings.Join(s.cfg.EnabledBackends, ","), "excludes every SERVICE_PRIORITY entry")
	}
	return StepPassed, strings.Join(usable, " > "), nil
}

// credential returns the secret a hosted backend needs. Local backends
// report ok without one.
func (s *Suite) credential(name string) (string, bool) {
	switch name {
	case core.BackendReplicate:
		return s.cfg.ReplicateAPIToken, true
	case core.BackendOpenAI:
		return s.cfg.OpenAIAPIKey, true
	default:
		return "", false
	}
}

func (s *Suite) checkCredentials(context.Context) (StepStatus, string, error) {
	var missing []string
	var firstErr error
	ready := 0
	for _, name := range s.usable() {
		secret, needs := s.credential(name)
		if !needs {
			ready++
			continue
		}
		if core.IsPlaceholderCredential(secret) {
			missing = append(missing, name)
			if firstErr == nil {
				if secret == "" {
					firstErr = core.ErrMissingAuth(name)
				} else {
					firstErr = core.ErrPlaceholderCredential(name)
				}
			}
			continue
		}
		ready++
	}

	switch {
	case ready == 0:
		return StepFailed, "no prioritized backend has credentials", firstErr
	case len(missing) > 0:
		return StepWarning, "missing for " + strings.Join(missing, ", "), firstErr
	default:
		return StepPassed, "all prioritized backends configured", nil
	}
}

func (s *Suite) probe(ctx context.Context, url string) (StepStatus, string, error) {
	r := s.connectivity.Check(ctx, url)
	if !r.Reachable {
		return StepWarning, r.Message, r.Error
	}
	return StepPassed, r.Message, nil
}

func (s *Suite) checkReplicate(ctx context.Context) (StepStatus, string, error) {
	if !s.wants(core.BackendReplicate) {
		return StepSkipped, "not in use", nil
	}
	if core.IsPlaceholderCredential(s.cfg.ReplicateAPIToken) {
		return StepSkipped, "no token", nil
	}
	return s.probe(ctx, s.cfg.ReplicateBaseURL)
}

func (s *Suite) checkLocalSD(ctx context.Context) (StepStatus, string, error) {
	if !s.wants(core.BackendLocalSD) {
		return StepSkipped, "not in use", nil
	}
	return s.probe(ctx, s.cfg.LocalSDURL)
}

func (s *Suite) checkLLM(ctx context.Context) (StepStatus, string, error) {
	if !s.cfg.PromptEnhancement && !s.cfg.BackgroundEnhancement && !s.cfg.ContextualGeneration {
		return StepSkipped, "enhancement disabled", nil
	}
	return s.probe(ctx, s.cfg.OllamaURL)
}

func (s *Suite) checkDisk(context.Context) (StepStatus, string, error) {
	if !s.cfg.SaveImages {
		return StepSkipped, "SAVE_IMAGES is off", nil
	}
	info, err := CheckDiskSpace(s.cfg.DownloadsDir, s.minFree)
	if err != nil {
		return StepFailed, "not enough free space", err
	}
	return StepPassed, fmt.Sprintf("%s free (%.0f%% used)", humanize.IBytes(uint64(info.Free)), info.UsedPercent), nil
}

func (s *Suite) runStep(ctx context.Context, name string, fn checkFunc) Step {
	if s.showProgress {
		fmt.Fprintf(s.output, "  ◌ %s...", name)
	}
	start := time.Now()
	status, msg, err := fn(ctx)
	step := Step{Name: name, Status: status, Message: msg, Error: err, Latency: time.Since(start)}
	if s.showProgress {
		s.printStep(step)
	}
	return step
}

func buildResult(steps []Step, start time.Time) Result {
	r := Result{Steps: steps, Duration: time.Since(start), Success: true}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			r.Passed++
		case StepFailed:
			r.Failed++
			r.Success = false
		case StepWarning:
			r.Warnings++
		case StepSkipped:
			r.Skipped++
		}
	}
	return r
}

func (s *Suite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *Suite) printStep(step Step) {
	var icon string
	var clr *color.Color
	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	fmt.Fprint(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Error != nil && (step.Status == StepFailed || step.Status == StepWarning) {
		clr.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(r Result) {
	fmt.Fprintln(s.output)
	dim := color.New(color.FgHiBlack)
	if r.Success {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprint(s.output, "━━━ Ready ")
		dim.Fprintf(s.output, "(%d passed, %d warnings, %d skipped in %v)",
			r.Passed, r.Warnings, r.Skipped, r.Duration.Round(time.Millisecond))
		ok.Fprintln(s.output, " ━━━")
	} else {
		bad := color.New(color.FgRed, color.Bold)
		bad.Fprint(s.output, "━━━ Not Ready ")
		dim.Fprintf(s.output, "(%d passed, %d failed)", r.Passed, r.Failed)
		bad.Fprintln(s.output, " ━━━")
	}
	fmt.Fprintln(s.output)
}

// FirstError returns the detail of the first failed step.
func (r Result) FirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary is a one-line description suitable for logs.
func (r Result) Summary() string {
	state := "passed"
	if !r.Success {
		state = "failed"
	}
	return fmt.Sprintf("preflight %s: %d passed, %d failed, %d warnings, %d skipped (took %v)",
		state, r.Passed, r.Failed, r.Warnings, r.Skipped, r.Duration.Round(time.Millisecond))
}
