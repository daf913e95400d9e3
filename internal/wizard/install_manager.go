// Copyright (C) 2025 Kaspa AIO Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wizard

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaspa-aio/kaspa-aio/internal/infra/compose"
	"github.com/kaspa-aio/kaspa-aio/pkg/logging"
)

// =============================================================================
// Install Manager
// =============================================================================

const (
	// pullConcurrency bounds parallel image pulls. Registries throttle
	// aggressive clients, and three keeps slow links responsive.
	pullConcurrency = 3

	// defaultGraceDelay is how long to wait after `up` before the first
	// health check. Containers need a moment to settle or fail.
	defaultGraceDelay = 5 * time.Second
)

// ExecutorFactory builds a compose executor for a set of profile
// overlay files. The installer derives overlays from the resolved
// profiles, so the executor cannot be constructed up front.
type ExecutorFactory func(overlays []string) (compose.Executor, error)

// InstallRequest describes one install run.
type InstallRequest struct {
	// Session scopes progress events to the requesting observer.
	Session string

	// Profiles are the requested profile names.
	Profiles []string

	// Config is the user-supplied configuration. Validated (and
	// defaulted) before any side effects occur.
	Config *InstallConfig
}

// InstallManager drives the multi-phase install pipeline.
//
// # Description
//
// The pipeline runs fixed stages in order: init (docker preflight),
// config (artifact generation), pull, build, deploy, validate. The
// first five abort the run on failure; validate is advisory and only
// downgrades the completion message to a warning. Exactly one install
// runs at a time per deployment root, enforced by the state store's
// wizardRunning check-and-set, and every terminal path clears that
// flag before the run ends.
//
// Progress is published as session-scoped events; the persisted state
// document carries the durable outcome for late observers.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent Install calls
// race on BeginInstall and the losers fail with ErrInstallInProgress.
type InstallManager struct {
	store      StateStore
	resolver   ProfileResolver
	generator  ConfigGenerator
	executors  ExecutorFactory
	health     HealthChecker
	infra      InfrastructureValidator
	classifier Classifier
	bus        *EventBus
	log        *logging.Logger

	// metrics is optional; nil disables recording.
	metrics MetricsRecorder

	// graceDelay is overridable so tests do not sleep for real.
	graceDelay time.Duration
}

// InstallManagerOptions collects the installer's collaborators.
type InstallManagerOptions struct {
	Store      StateStore
	Resolver   ProfileResolver
	Generator  ConfigGenerator
	Executors  ExecutorFactory
	Health     HealthChecker
	Infra      InfrastructureValidator
	Classifier Classifier
	Bus        *EventBus
	Log        *logging.Logger
}

// NewInstallManager creates an install manager. All collaborators
// except the logger are required.
func NewInstallManager(opts InstallManagerOptions) (*InstallManager, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("state store is required")
	case opts.Resolver == nil:
		return nil, fmt.Errorf("profile resolver is required")
	case opts.Generator == nil:
		return nil, fmt.Errorf("config generator is required")
	case opts.Executors == nil:
		return nil, fmt.Errorf("executor factory is required")
	case opts.Health == nil:
		return nil, fmt.Errorf("health checker is required")
	case opts.Infra == nil:
		return nil, fmt.Errorf("infrastructure validator is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("error classifier is required")
	case opts.Bus == nil:
		return nil, fmt.Errorf("event bus is required")
	}

	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	return &InstallManager{
		store:      opts.Store,
		resolver:   opts.Resolver,
		generator:  opts.Generator,
		executors:  opts.Executors,
		health:     opts.Health,
		infra:      opts.Infra,
		classifier: opts.Classifier,
		bus:        opts.Bus,
		log:        log.With("component", "install-manager"),
		graceDelay: defaultGraceDelay,
	}, nil
}

// SetGraceDelay overrides the post-deploy settle delay.
func (m *InstallManager) SetGraceDelay(d time.Duration) {
	m.graceDelay = d
}

// SetMetrics wires a recorder for install outcomes and stage
// durations. Call before the first Install.
func (m *InstallManager) SetMetrics(rec MetricsRecorder) {
	m.metrics = rec
}

// observeStage reports a completed stage's duration, if recording.
func (m *InstallManager) observeStage(stage Stage, started time.Time) {
	if m.metrics != nil {
		m.metrics.RecordStageDuration(string(stage), time.Since(started).Seconds())
	}
}

// Install runs the full pipeline synchronously.
//
// Validation and the wizardRunning claim happen before any side
// effects, so a rejected request leaves no trace. The returned error
// mirrors the install:error event; callers running the pipeline in the
// background can rely on events alone.
func (m *InstallManager) Install(ctx context.Context, req InstallRequest) error {
	resolved, err := m.resolver.Resolve(req.Profiles)
	if err != nil {
		m.publishError(req.Session, StageConfig, "invalid profile selection", err, nil, "", nil)
		return err
	}

	cfg, problems, err := m.generator.Validate(req.Config)
	if err != nil {
		m.publishError(req.Session, StageConfig, "configuration rejected", err, problems, "", nil)
		return err
	}

	if err := m.store.BeginInstall(resolved.Profiles, cfg); err != nil {
		// Deliberately no event: the rejection belongs to the caller,
		// not to observers of the running install.
		return err
	}

	m.log.Info("install started",
		"session", req.Session,
		"profiles", strings.Join(resolved.Profiles, ","),
		"network", cfg.Network)

	if err := m.run(ctx, req.Session, resolved, cfg); err != nil {
		return err
	}
	return nil
}

// run executes the stages after the mutex is held. Every path out of
// here goes through finishError or finishComplete, which release the
// wizardRunning flag.
func (m *InstallManager) run(ctx context.Context, session string, resolved *ResolvedProfiles, cfg *InstallConfig) error {
	// --- init: 0-5 ---
	stageStart := time.Now()
	m.publishProgress(session, StageInit, 0, "checking docker availability", nil)
	if err := m.infra.CheckDocker(ctx); err != nil {
		return m.finishError(session, StageInit, "docker preflight failed", err, cfg, "", nil)
	}
	m.publishProgress(session, StageInit, 5, "docker is available", nil)
	m.observeStage(StageInit, stageStart)

	// --- config: 5-15 ---
	stageStart = time.Now()
	m.publishProgress(session, StageConfig, 5, "writing deployment configuration", nil)
	if err := m.generator.SaveArtifacts(cfg, resolved); err != nil {
		return m.finishError(session, StageConfig, "failed to write deployment configuration", err, cfg, "", nil)
	}
	m.publishProgress(session, StageConfig, 15, "deployment configuration written", nil)

	executor, err := m.executors(resolved.OverlayFiles)
	if err != nil {
		return m.finishError(session, StageConfig, "failed to prepare compose executor", err, cfg, "", nil)
	}
	m.observeStage(StageConfig, stageStart)

	// --- pull: 15-50 ---
	stageStart = time.Now()
	pullResults, failedService, err := m.pullImages(ctx, session, executor, resolved)
	if err != nil {
		return m.finishError(session, StagePull, "image pull failed", err, cfg, failedService, pullResults)
	}
	m.observeStage(StagePull, stageStart)

	// --- build: 55-70 ---
	stageStart = time.Now()
	if failedService, err := m.buildServices(ctx, session, executor, resolved); err != nil {
		return m.finishError(session, StageBuild, "image build failed", err, cfg, failedService, pullResults)
	}
	m.observeStage(StageBuild, stageStart)

	// --- deploy: 70-90 ---
	stageStart = time.Now()
	m.publishProgress(session, StageDeploy, 70, "starting services", nil)
	result, err := executor.Up(ctx, compose.UpOptions{RemoveOrphans: true})
	if err != nil {
		err = fmt.Errorf("%w: %s", err, strings.TrimSpace(resultStderr(result)))
		return m.finishError(session, StageDeploy, "failed to start services", err, cfg,
			deployFailedService(err.Error(), resolved), pullResults)
	}
	m.publishProgress(session, StageDeploy, 90, "services started", nil)
	m.observeStage(StageDeploy, stageStart)

	// --- validate: 90-100, advisory ---
	stageStart = time.Now()
	report := m.validate(ctx, session, executor, resolved)
	m.observeStage(StageValidate, stageStart)
	return m.finishComplete(session, resolved, report)
}

// deployFailedService scans compose's error output for a known service
// name. Compose names containers <project>-<service>-N, so the failing
// endpoint line carries the service name verbatim. Longest match wins
// because service names can be prefixes of each other (kaspa-rest vs
// kaspa-rest-server).
func deployFailedService(errText string, resolved *ResolvedProfiles) string {
	failed := ""
	for _, svc := range resolved.Services {
		if strings.Contains(errText, svc.Name) && len(svc.Name) > len(failed) {
			failed = svc.Name
		}
	}
	return failed
}

// pullImages pulls every registry-backed service image, a few at a
// time. Any failure aborts the run; the partial results still reach
// the error payload so the operator sees which images made it.
func (m *InstallManager) pullImages(ctx context.Context, session string, executor compose.Executor, resolved *ResolvedProfiles) ([]PullResult, string, error) {
	services := resolved.PullServices()
	if len(services) == 0 {
		return nil, "", nil
	}

	m.publishProgress(session, StagePull, 15,
		fmt.Sprintf("pulling %d images", len(services)), nil)

	var (
		mu       sync.Mutex
		results  []PullResult
		done     int
		firstErr error
		failed   string
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(pullConcurrency)

	for _, svc := range services {
		group.Go(func() error {
			res, err := executor.Pull(gctx, compose.PullOptions{Service: svc.Name})

			record := PullResult{Image: svc.Image, Service: svc.Name, Success: err == nil}
			if err != nil {
				err = fmt.Errorf("pull failed for %s: %w: %s",
					svc.Image, err, strings.TrimSpace(resultStderr(res)))
				record.Error = err.Error()
			}

			mu.Lock()
			results = append(results, record)
			done++
			progress := 15 + 35*done/len(services)
			if err != nil && firstErr == nil {
				firstErr = err
				failed = svc.Name
			}
			// Published while still holding mu: Publish never blocks,
			// and releasing first would let two completing pulls emit
			// their progress values out of order.
			m.publishProgress(session, StagePull, progress,
				fmt.Sprintf("pulled %d/%d images", done, len(services)), record)
			mu.Unlock()
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return results, failed, firstErr
	}
	return results, "", nil
}

// buildServices builds locally-built services one at a time so a
// failure names the offending service.
func (m *InstallManager) buildServices(ctx context.Context, session string, executor compose.Executor, resolved *ResolvedProfiles) (string, error) {
	services := resolved.BuildServices()
	if len(services) == 0 {
		return "", nil
	}

	m.publishProgress(session, StageBuild, 55,
		fmt.Sprintf("building %d images", len(services)), nil)

	for i, svc := range services {
		result, err := executor.Build(ctx, compose.BuildOptions{Services: []string{svc.Name}})
		if err != nil {
			return svc.Name, fmt.Errorf("build failed for %s: %w: %s",
				svc.Name, err, strings.TrimSpace(resultStderr(result)))
		}
		progress := 55 + 15*(i+1)/len(services)
		m.publishProgress(session, StageBuild, progress,
			fmt.Sprintf("built %s", svc.Name), nil)
	}
	return "", nil
}

// validate runs the advisory post-deploy checks. It never fails the
// install; degraded results surface as warnings in the completion
// payload.
func (m *InstallManager) validate(ctx context.Context, session string, executor compose.Executor, resolved *ResolvedProfiles) *ValidationReport {
	m.publishProgress(session, StageValidate, 90, "waiting for services to settle", nil)

	select {
	case <-time.After(m.graceDelay):
	case <-ctx.Done():
	}

	report := &ValidationReport{}

	records, _, err := m.health.CheckServices(ctx, resolved)
	if err != nil {
		m.log.Warn("post-deploy health check failed", "error", err)
		for _, name := range resolved.ServiceNames() {
			report.Services = append(report.Services, ServiceRecord{Name: name, Status: "unknown"})
		}
	} else {
		report.Services = records
	}
	m.publishProgress(session, StageValidate, 95, "service health checked", nil)

	report.Infrastructure = m.infra.Validate(ctx, resolved)
	report.InfrastructureSummary = m.infra.Summary(report.Infrastructure)

	report.Healthy = err == nil && Healthy(report.Services)
	for _, check := range report.Infrastructure {
		if !check.Passed {
			report.Healthy = false
		}
	}

	return report
}

// finishComplete records the terminal success state and announces it.
func (m *InstallManager) finishComplete(session string, resolved *ResolvedProfiles, report *ValidationReport) error {
	summary := ServiceSummary{Total: len(report.Services)}
	for _, svc := range report.Services {
		switch svc.Status {
		case "running":
			summary.Running++
		case "missing":
			summary.Missing++
		default:
			summary.Stopped++
		}
	}

	if err := m.store.FinishInstall(PhaseComplete, report.Services, summary); err != nil {
		m.log.Error("failed to persist completion", "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordInstall(true)
	}

	message := "installation complete"
	if !report.Healthy {
		message = "installation complete with warnings"
	}

	m.publishProgress(session, StageValidate, 100, message, nil)
	m.bus.Publish(session, Event{
		Type:    EventInstallComplete,
		Payload: CompletePayload{Message: message, Validation: report},
	})

	m.log.Info("install finished",
		"profiles", strings.Join(resolved.Profiles, ","),
		"healthy", report.Healthy)
	return nil
}

// finishError records the terminal error state, classifies the cause,
// and announces it with remediation steps.
func (m *InstallManager) finishError(session string, stage Stage, message string, cause error, cfg *InstallConfig, failedService string, pullResults []PullResult) error {
	if err := m.store.FinishInstall(PhaseError, nil, ServiceSummary{}); err != nil {
		m.log.Error("failed to persist error state", "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordInstall(false)
		m.metrics.RecordInstallFailure(string(m.classifier.Classify(cause)))
	}

	m.log.Error("install failed", "stage", stage, "error", cause)
	m.publishError(session, stage, message, cause, nil, failedService, pullResults)

	return fmt.Errorf("%s: %w", message, cause)
}

// publishError classifies the failure and emits install:error.
func (m *InstallManager) publishError(session string, stage Stage, message string, cause error, problems []string, failedService string, pullResults []PullResult) {
	category := m.classifier.Classify(cause)
	suggestions := m.classifier.SuggestionsFor(category, SuggestionContext{
		Stage:   stage,
		Service: failedService,
		Port:    extractPort(cause),
	})

	payload := ErrorPayload{
		Stage:                stage,
		Message:              message,
		Error:                cause.Error(),
		Category:             category,
		DocumentationLink:    documentationLink(category),
		TroubleshootingSteps: problems,
		Suggestions:          suggestions,
		PullResults:          pullResults,
		FailedService:        failedService,
	}

	m.bus.Publish(session, Event{Type: EventInstallError, Payload: payload})
}

// publishProgress emits one install:progress event.
func (m *InstallManager) publishProgress(session string, stage Stage, progress int, message string, details any) {
	m.bus.Publish(session, Event{
		Type: EventInstallProgress,
		Payload: ProgressPayload{
			Stage:    stage,
			Message:  message,
			Progress: progress,
			Details:  details,
		},
	})
}

// =============================================================================
// Teardown
// =============================================================================

// Uninstall stops the deployed stack and returns the state to idle.
//
// With removeVolumes set it also deletes named volumes, including the
// chain database. That is irreversible; callers own the confirmation.
func (m *InstallManager) Uninstall(ctx context.Context, removeVolumes bool) error {
	state, err := m.store.Read()
	if err != nil {
		return err
	}
	if state.WizardRunning {
		return ErrInstallInProgress
	}

	overlays := []string{}
	if len(state.Profiles) > 0 {
		if resolved, err := m.resolver.Resolve(state.Profiles); err == nil {
			overlays = resolved.OverlayFiles
		}
	}

	executor, err := m.executors(overlays)
	if err != nil {
		return err
	}

	result, err := executor.Down(ctx, compose.DownOptions{
		RemoveOrphans: true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return fmt.Errorf("failed to stop stack: %w: %s", err, strings.TrimSpace(resultStderr(result)))
	}

	m.log.Info("stack removed", "volumes_removed", removeVolumes)

	return m.store.Update(func(s *InstallationState) {
		s.Phase = PhaseIdle
		s.Profiles = nil
		s.Configuration = nil
		s.Services = nil
		s.Summary = ServiceSummary{}
		s.InstalledAt = nil
	})
}

// =============================================================================
// Helpers
// =============================================================================

// portPattern matches the first plausible port number in docker's
// bind-failure messages ("Bind for 0.0.0.0:16110 failed: ...").
var portPattern = regexp.MustCompile(`:(\d{2,5})\b`)

// extractPort pulls a port number out of an error message, or 0.
func extractPort(err error) int {
	if err == nil {
		return 0
	}
	match := portPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0
	}
	port, _ := strconv.Atoi(match[1])
	if port < 1 || port > 65535 {
		return 0
	}
	return port
}

// documentationLink maps a failure category to its troubleshooting
// page.
func documentationLink(category Category) string {
	base := "https://github.com/kaspa-aio/kaspa-aio/wiki/troubleshooting"
	switch category {
	case CategoryPortConflict:
		return base + "#port-conflicts"
	case CategoryPermission:
		return base + "#permissions"
	case CategoryDiskSpace:
		return base + "#disk-space"
	case CategoryDockerNotRunning:
		return base + "#docker-daemon"
	case CategoryNetwork:
		return base + "#network"
	case CategoryImageNotFound:
		return base + "#images"
	case CategoryResourceLimit:
		return base + "#resources"
	}
	return base
}

// resultStderr safely reads stderr from a possibly-nil result.
func resultStderr(result *compose.Result) string {
	if result == nil {
		return ""
	}
	return result.Stderr
}
