package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/internal/logger"
	"gitlab.com/lmn-dev/lmn/internal/tracing"
	"gitlab.com/lmn-dev/lmn/models"
)

// Connector opens the backend runner for a plan. It is only called once every guard passed.
// A runner implementing io.Closer is closed when the dispatch ends.
type Connector interface {
	Runner(ctx context.Context, plan *Plan) (executor.Runner, error)
}

// LaunchRecorder persists launch records; repositories.LaunchRepository satisfies it.
type LaunchRecorder interface {
	Create(ctx context.Context, rec models.LaunchRecord) (models.LaunchRecord, error)
}

type Dispatcher struct {
	connector Connector
	launches  LaunchRecorder
	log       *otelzap.SugaredLogger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewDispatcher returns a dispatcher. launches may be nil to skip the launch log.
func NewDispatcher(connector Connector, launches LaunchRecorder, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		connector: connector,
		launches:  launches,
		log:       logger.Otel(log).Sugar(),
		tracer:    tracing.Tracer(),
		now:       time.Now,
	}
}

// Dispatch validates plan, expands its sweep and executes every member in ascending
// index order. It stops at the first member that fails and returns the handles of the
// members started so far.
func (d *Dispatcher) Dispatch(ctx context.Context, plan *Plan) (handles []*models.JobHandle, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("lmn.machine", plan.Machine),
		attribute.String("lmn.mode", plan.Mode.String()),
		attribute.String("lmn.project", plan.Project),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := Validate(plan); err != nil {
		return nil, err
	}
	indices, err := Indices(plan.Request)
	if err != nil {
		return nil, err
	}
	members, err := Expand(plan, indices)
	if err != nil {
		return nil, err
	}

	runner, err := d.connector.Runner(ctx, plan)
	if err != nil {
		return nil, err
	}
	if c, ok := runner.(io.Closer); ok {
		defer func() {
			err = multierr.Append(err, c.Close())
		}()
	}

	invocation := uuid.NewString()
	log := d.log.Ctx(ctx)
	log.Infof("Running with [%s] mode on [%s@%s]", plan.Mode, plan.User, plan.Machine)

	for _, m := range members {
		if m.Index != nil {
			log.Infof("Launching sweep %d: %s", *m.Index, m.Name)
		}
		handle, err := d.exec(ctx, runner, m)
		if handle != nil {
			handles = append(handles, handle)
			d.record(ctx, invocation, plan, m, handle)
		}
		if err != nil {
			return handles, err
		}
	}
	return handles, nil
}

func (d *Dispatcher) exec(ctx context.Context, runner executor.Runner, m Member) (*models.JobHandle, error) {
	attrs := []attribute.KeyValue{attribute.String("lmn.name", m.Name)}
	if m.Index != nil {
		attrs = append(attrs, attribute.Int("lmn.sweep_index", *m.Index))
	}
	ctx, span := d.tracer.Start(ctx, "exec", trace.WithAttributes(attrs...))
	defer span.End()

	handle, err := runner.Exec(ctx, m.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if handle != nil && handle.JobID != "" {
		span.SetAttributes(attribute.String("lmn.job_id", handle.JobID))
	}
	return handle, err
}

// record writes the launch log entry. A failure is logged and does not fail the dispatch.
func (d *Dispatcher) record(ctx context.Context, invocation string, plan *Plan, m Member, handle *models.JobHandle) {
	if d.launches == nil {
		return
	}
	snapshot, err := json.Marshal(m.Request.Env)
	if err != nil {
		d.log.Ctx(ctx).Warnf("could not encode env for the launch log: %v", err)
	}
	name := handle.Name
	if name == "" {
		name = m.Name
	}
	rec := models.LaunchRecord{
		InvocationID: invocation,
		Machine:      plan.Machine,
		Project:      plan.Project,
		Mode:         plan.Mode.String(),
		Name:         name,
		JobID:        handle.JobID,
		SweepIndex:   m.Index,
		Command:      plan.Request.Command,
		Env:          string(snapshot),
		LaunchedAt:   d.now(),
	}
	if _, err := d.launches.Create(ctx, rec); err != nil {
		d.log.Ctx(ctx).Warnf("could not record launch of %s: %v", name, err)
	}
}
