package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/open-sspm/egress-provisioner/internal/metrics"
)

// Run summarizes one provisioning call for the audit trail. It never carries
// parameter or secret values.
type Run struct {
	PluginFQN     string
	Slug          string
	Path          Path
	Status        string
	FailedStep    Step
	FailureKind   Kind
	Message       string
	ParameterKeys []string
	SecretKeys    []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RunRecorder persists run summaries. Recording failures never fail a call.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Provisioner drives the ordered provisioning steps against a Platform.
type Provisioner struct {
	platform   Platform
	reporter   Reporter
	recorder   RunRecorder
	compensate bool
	now        func() time.Time
}

func NewProvisioner(platform Platform) (*Provisioner, error) {
	if platform == nil {
		return nil, errors.New("platform is nil")
	}
	if v := reflect.ValueOf(platform); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, errors.New("platform is nil")
	}
	return &Provisioner{
		platform: platform,
		reporter: nopReporter{},
		now:      time.Now,
	}, nil
}

func (p *Provisioner) SetReporter(r Reporter) {
	if r == nil {
		r = nopReporter{}
	}
	p.reporter = r
}

func (p *Provisioner) SetRecorder(r RunRecorder) {
	p.recorder = r
}

// SetCompensation enables undoing a failed call after lifecycle initiation:
// the draft is discarded, and the integration is dropped on the create path or
// restored to its previous definition on the edit path.
func (p *Provisioner) SetCompensation(enabled bool) {
	p.compensate = enabled
}

// call tracks the transient state of one invocation.
type call struct {
	req                    Request
	path                   Path
	database               string
	draft                  *Draft
	integrationProvisioned bool
	priorIntegration       *IntegrationSpec
	params                 Attributed
	secrets                Attributed
}

// Provision creates or updates the connection described by req. On success
// the returned Result carries SuccessMarker. The first failure aborts the
// remaining steps and is returned as a *StepError.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Result, error) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	c := &call{req: req}
	started := p.now()
	res, err := p.run(ctx, c)
	if err != nil && c.draft != nil && p.compensate {
		p.compensateFailure(ctx, c)
	}
	p.finish(ctx, c, started, err)
	return res, err
}

func (p *Provisioner) run(ctx context.Context, c *call) (Result, error) {
	req := c.req

	// 1. plugin
	err := p.step(ctx, c, StepResolvePlugin, 1, func() error {
		db, err := p.platform.PluginDatabase(ctx, req.PluginFQN)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &StepError{Kind: KindNotFound, Step: StepResolvePlugin, Message: fmt.Sprintf("plugin %s not found", req.PluginFQN), Err: err}
			}
			return stepFailure(KindLifecycleRejected, StepResolvePlugin, err)
		}
		if strings.TrimSpace(db) == "" {
			return &StepError{Kind: KindNotFound, Step: StepResolvePlugin, Message: fmt.Sprintf("plugin %s not found", req.PluginFQN)}
		}
		c.database = strings.TrimSpace(db)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 2. existing connection
	var existingID string
	err = p.step(ctx, c, StepLocateConnection, 2, func() error {
		id, found, err := p.platform.ConnectionID(ctx, req.Slug)
		if err != nil {
			return stepFailure(KindLifecycleRejected, StepLocateConnection, err)
		}
		c.path = PathCreate
		if found {
			c.path = PathEdit
			existingID = id
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 3. normalize
	err = p.step(ctx, c, StepNormalize, 3, func() error {
		c.params = Normalize(req.Parameters)
		c.secrets = Normalize(req.Secrets)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 4. begin edit or creation
	err = p.step(ctx, c, StepBeginLifecycle, 4, func() error {
		var (
			draft Draft
			err   error
		)
		switch c.path {
		case PathEdit:
			draft, err = p.platform.BeginEdit(ctx, BeginEditInput{
				Name:         req.Name,
				Slug:         req.Slug,
				ConnectionID: existingID,
			})
		default:
			draft, err = p.platform.BeginCreation(ctx, BeginCreationInput{
				PluginFQN:               req.PluginFQN,
				Name:                    req.Name,
				Slug:                    req.Slug,
				Connectivity:            req.Connectivity,
				Method:                  req.Method,
				OtherEnvironmentsExist:  req.OtherEnvironmentsExist,
				IsProductionEnvironment: req.IsProductionEnvironment,
			})
		}
		if err != nil {
			return stepFailure(KindLifecycleRejected, StepBeginLifecycle, err)
		}
		if err := draft.Validate(); err != nil {
			return &StepError{Kind: KindLifecycleRejected, Step: StepBeginLifecycle, Err: err}
		}
		c.draft = &draft
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	draft := *c.draft

	// 5. egress integration and grant
	err = p.step(ctx, c, StepProvisionEgress, 5, func() error {
		spec := IntegrationSpec{
			Name:            draft.IntegrationName,
			NetworkRule:     DataObject(c.database, draft.NetworkRuleName),
			SecretContainer: DataObject(c.database, draft.OtherSecretsName),
		}
		if p.compensate && c.path == PathEdit {
			c.priorIntegration = p.snapshotIntegration(ctx, c, spec.Name)
		}
		if err := p.platform.ReplaceIntegration(ctx, spec); err != nil {
			return stepFailure(KindProvisioning, StepProvisionEgress, err)
		}
		c.integrationProvisioned = true
		if err := p.platform.GrantIntegrationUsage(ctx, draft.IntegrationName, c.database); err != nil {
			return stepFailure(KindProvisioning, StepGrantUsage, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 6. plugin address resolution
	var addresses Addresses
	err = p.step(ctx, c, StepResolveAddresses, 6, func() error {
		out, err := p.platform.NetworkAddresses(ctx, c.database, req.Method, c.params)
		if err != nil {
			return stepFailure(KindAddressResolution, StepResolveAddresses, err)
		}
		addresses = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 7. commit
	var confirmation []byte
	err = p.step(ctx, c, StepCompleteLifecycle, 7, func() error {
		out, err := p.platform.CompleteCreation(ctx, CompleteInput{
			InProgressID: draft.InProgressID,
			Addresses:    addresses,
			Parameters:   c.params,
			Secrets:      c.secrets,
		})
		if err != nil {
			return stepFailure(KindLifecycleRejected, StepCompleteLifecycle, err)
		}
		confirmation = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Status:       SuccessMarker,
		Path:         c.path,
		Integration:  draft.IntegrationName,
		Confirmation: confirmation,
	}, nil
}

func (p *Provisioner) step(ctx context.Context, c *call, s Step, n int64, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.reporter.Report(Event{Slug: c.req.Slug, Step: s, Current: n - 1, Total: TotalSteps, Message: "starting " + string(s), At: p.now()})

	start := time.Now()
	err := fn()
	metrics.StepDuration.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
	if err != nil {
		failed := s
		kind := Kind("error")
		var se *StepError
		if errors.As(err, &se) {
			failed = se.Step
			kind = se.Kind
		}
		metrics.StepFailuresTotal.WithLabelValues(string(failed), string(kind)).Inc()
		p.reporter.Report(Event{Slug: c.req.Slug, Step: failed, Current: n, Total: TotalSteps, Err: err, At: p.now()})
		return err
	}
	p.reporter.Report(Event{Slug: c.req.Slug, Step: s, Current: n, Total: TotalSteps, Message: "finished " + string(s), At: p.now()})
	return nil
}

// snapshotIntegration reads the definition an edit is about to replace so a
// later failure can put it back. A nil result means nothing can be restored.
func (p *Provisioner) snapshotIntegration(ctx context.Context, c *call, name string) *IntegrationSpec {
	inspector, ok := p.platform.(IntegrationInspector)
	if !ok {
		return nil
	}
	spec, found, err := inspector.DescribeIntegration(ctx, name)
	if err != nil {
		slog.Warn("failed to read integration before replacing it", "slug", c.req.Slug, "integration", name, "err", err)
		return nil
	}
	if !found {
		return nil
	}
	return &spec
}

func (p *Provisioner) compensateFailure(ctx context.Context, c *call) {
	// The failure may have been a cancellation; compensation still needs to run.
	ctx = context.WithoutCancel(ctx)
	discarder, canDiscard := p.platform.(DraftDiscarder)
	integration := c.draft.IntegrationName

	if c.integrationProvisioned {
		switch {
		case c.path == PathEdit && c.priorIntegration != nil:
			err := p.platform.ReplaceIntegration(ctx, *c.priorIntegration)
			observeCompensation("restore_integration", err)
			if err != nil {
				slog.Error("failed to restore integration after failure", "slug", c.req.Slug, "integration", integration, "err", err)
			}
		case c.path == PathEdit:
			slog.Warn("integration left on the draft's rule and secret; its previous definition is unknown", "slug", c.req.Slug, "integration", integration)
		case canDiscard:
			err := discarder.DropIntegration(ctx, integration)
			observeCompensation("drop_integration", err)
			if err != nil {
				slog.Error("failed to drop integration after failure", "slug", c.req.Slug, "integration", integration, "err", err)
			}
		}
	}

	if !canDiscard {
		slog.Warn("compensation requested but platform cannot discard drafts", "slug", c.req.Slug)
		return
	}
	err := discarder.DiscardDraft(ctx, c.draft.InProgressID)
	observeCompensation("discard_draft", err)
	if err != nil {
		slog.Error("failed to discard draft after failure", "slug", c.req.Slug, "err", err)
	}
}

func observeCompensation(action string, err error) {
	status := statusSuccess
	if err != nil {
		status = statusFailure
	}
	metrics.CompensationsTotal.WithLabelValues(action, status).Inc()
}

func (p *Provisioner) finish(ctx context.Context, c *call, started time.Time, err error) {
	finished := p.now()
	path := c.path
	if path == "" {
		path = "unknown"
	}

	status := statusSuccess
	if err != nil {
		status = statusFailure
	}
	metrics.ProvisionRunsTotal.WithLabelValues(string(path), status).Inc()
	metrics.ProvisionDuration.WithLabelValues(string(path)).Observe(finished.Sub(started).Seconds())
	if err == nil {
		metrics.ProvisionLastSuccessTimestamp.WithLabelValues(string(path)).Set(float64(finished.Unix()))
		p.reporter.Report(Event{Slug: c.req.Slug, Current: TotalSteps, Total: TotalSteps, Done: true, Message: "connection provisioned", At: finished})
	}

	if p.recorder == nil {
		return
	}
	run := Run{
		PluginFQN:     c.req.PluginFQN,
		Slug:          c.req.Slug,
		Path:          c.path,
		Status:        status,
		ParameterKeys: slices.Sorted(maps.Keys(c.req.Parameters)),
		SecretKeys:    slices.Sorted(maps.Keys(c.req.Secrets)),
		StartedAt:     started,
		FinishedAt:    finished,
	}
	if err != nil {
		run.Message = err.Error()
		var se *StepError
		if errors.As(err, &se) {
			run.FailedStep = se.Step
			run.FailureKind = se.Kind
		}
	}
	if recErr := p.recorder.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		slog.Warn("failed to record provisioning run", "slug", c.req.Slug, "err", recErr)
	}
}
