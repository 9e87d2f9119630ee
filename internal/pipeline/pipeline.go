// Package pipeline orchestrates the extraction flow for one session: a
// serial prefix (ingest, context analysis, event identification) followed
// by a capped parallel fan-out of per-event chains (fact extraction,
// calendar formatting). Serial failures fail the session; chain failures
// are isolated so sibling events still persist.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/session"
	"github.com/penciled/penciled/internal/stage"
)

// snapshotLimit bounds stored stage snapshots. Truncation can cut JSON
// mid-token; the column is diagnostic text, not a contract.
const snapshotLimit = 8 << 10

// Pipeline runs sessions end to end. Transcriber and Fetcher are
// optional pre-resolution steps; when nil, audio and link payloads reach
// ingest as submitted.
type Pipeline struct {
	DB          *sql.DB
	Broker      *progress.Broker
	Stages      stage.Stages
	Transcriber stage.Transcriber
	Fetcher     stage.LinkFetcher
	Config      *config.Config
}

// Run processes one session and records every outcome on the session row
// and the progress stream. It never returns an error; callers usually
// start it with go and follow along via the broker.
func (p *Pipeline) Run(sessionID string, payload input.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Config.PipelineTimeout())
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline run")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	err := p.process(ctx, sessionID, payload)
	if err == nil {
		span.SetAttributes(attribute.String("outcome", "processed"))
		sessionsRun.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "processed")))
		return
	}

	kind := progress.KindError
	outcome := "error"
	if ctx.Err() == context.DeadlineExceeded {
		kind = progress.KindTimeout
		outcome = "timeout"
		err = errors.NewTimeout("session processing")
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("outcome", outcome))

	msg := errors.From(err).Message
	if dbErr := db.SetSessionError(p.DB, sessionID, msg); dbErr != nil {
		logger.WarnContext(ctx, "failed to record session error",
			"session_id", sessionID, "error", dbErr)
	}
	p.publish(progress.Notification{SessionID: sessionID, Kind: kind, Message: msg})
	sessionsRun.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	logger.ErrorContext(ctx, "session processing failed",
		"session_id", sessionID, "error", err)
}

func (p *Pipeline) process(ctx context.Context, sessionID string, payload input.Payload) error {
	if err := db.UpdateSessionStatus(p.DB, sessionID, session.StatusPending, session.StatusProcessing); err != nil {
		return err
	}
	p.publish(progress.Notification{SessionID: sessionID, Kind: progress.KindInit})

	payload, err := p.resolve(ctx, sessionID, payload)
	if err != nil {
		return err
	}

	ing, err := runStage(ctx, p, sessionID, stage.StageIngest, ingestSnapshot(payload),
		func(ctx context.Context) (*stage.Ingested, error) {
			return p.Stages.Ingest(ctx, payload)
		})
	if err != nil {
		return err
	}
	p.publish(progress.Notification{SessionID: sessionID, Kind: progress.KindStage, Stage: stage.StageIngest})

	sctx, err := runStage(ctx, p, sessionID, stage.StageContextAnalysis, ing,
		func(ctx context.Context) (*stage.Context, error) {
			return p.Stages.AnalyzeContext(ctx, ing.Text, ing.Metadata)
		})
	if err != nil {
		return err
	}
	p.publish(progress.Notification{SessionID: sessionID, Kind: progress.KindStage, Stage: stage.StageContextAnalysis})

	idf, err := runStage(ctx, p, sessionID, stage.StageEventIdentification, sctx,
		func(ctx context.Context) (*stage.Identified, error) {
			return p.Stages.IdentifyEvents(ctx, ing.Text, ing.Metadata, sctx)
		})
	if err != nil {
		return err
	}
	p.publish(progress.Notification{
		SessionID:  sessionID,
		Kind:       progress.KindStage,
		Stage:      stage.StageEventIdentification,
		EventCount: idf.Count,
	})

	if !idf.HasEvents || len(idf.Events) == 0 {
		if err := db.UpdateSessionStatus(p.DB, sessionID, session.StatusProcessing, session.StatusProcessed); err != nil {
			return err
		}
		p.publish(progress.Notification{
			SessionID: sessionID,
			Kind:      progress.KindComplete,
			Message:   "no schedulable events found",
		})
		return nil
	}

	// One slot per identified event; chains write only their own index,
	// so the slice needs no lock.
	outcomes := make([]error, len(idf.Events))
	sem := newSemaphore(p.Config.MaxParallelChains)
	var wg sync.WaitGroup
	for i, cand := range idf.Events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.runChain(ctx, sessionID, i, cand, sem)
		}()
	}
	wg.Wait()

	persisted := 0
	var chainErrs []error
	for _, err := range outcomes {
		if err != nil {
			chainErrs = append(chainErrs, err)
			continue
		}
		persisted++
	}
	if len(chainErrs) > 0 {
		logger.WarnContext(ctx, "extraction chains failed",
			"session_id", sessionID,
			"failed", len(chainErrs),
			"total", len(outcomes),
			"error", stderrors.Join(chainErrs...))
	}
	if persisted == 0 {
		return chainErrs[0]
	}

	if err := db.UpdateSessionStatus(p.DB, sessionID, session.StatusProcessing, session.StatusProcessed); err != nil {
		return err
	}
	p.publish(progress.Notification{
		SessionID:  sessionID,
		Kind:       progress.KindComplete,
		EventCount: persisted,
	})
	return nil
}

// resolve rewrites payloads ingest cannot read directly: audio through
// the transcriber, links through the fetcher. Failures here count as
// ingest failures and leave a failed audit row.
func (p *Pipeline) resolve(ctx context.Context, sessionID string, payload input.Payload) (input.Payload, error) {
	switch payload.Metadata["source"] {
	case string(input.KindAudio):
		if p.Transcriber == nil {
			return payload, nil
		}
		started := time.Now()
		text, err := p.Transcriber.Transcribe(ctx, payload.Data, payload.MIME)
		if err != nil {
			p.record(sessionID, stage.StageIngest, ingestSnapshot(payload), nil, time.Since(started), err)
			return payload, errors.NewStageFailed(stage.StageIngest, err)
		}
		payload.Text = text
		payload.Data = nil
		payload.FileName = ""
		payload.MIME = ""
		return payload, nil

	case string(input.KindLink):
		if p.Fetcher == nil {
			return payload, nil
		}
		started := time.Now()
		data, mime, err := p.Fetcher.FetchLink(ctx, payload.Text)
		if err != nil {
			p.record(sessionID, stage.StageIngest, ingestSnapshot(payload), nil, time.Since(started), err)
			return payload, errors.NewStageFailed(stage.StageIngest, err)
		}
		payload.Data = data
		payload.MIME = mime
		return payload, nil
	}
	return payload, nil
}

// runStage executes one stage, records its audit row, and wraps failures
// as STAGE_FAILED. Progress notifications are the caller's business.
func runStage[T any](ctx context.Context, p *Pipeline, sessionID, name string, in any, f func(context.Context) (*T, error)) (*T, error) {
	started := time.Now()
	out, err := f(ctx)
	elapsed := time.Since(started)
	p.record(sessionID, name, in, out, elapsed, err)
	if err != nil {
		return nil, errors.NewStageFailed(name, err)
	}
	trace.SpanFromContext(ctx).AddEvent("stage complete", trace.WithAttributes(
		attribute.String("stage", name),
		attribute.Int64("duration_ms", elapsed.Milliseconds())))
	return out, nil
}

// runChain executes one candidate's extraction chain: facts, formatting,
// persistence. Each chain fails alone; an error or panic here never
// stops sibling chains.
func (p *Pipeline) runChain(ctx context.Context, sessionID string, i int, cand stage.Candidate, sem *semaphore) (outErr error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outErr = p.chainFailed(ctx, sessionID, i, fmt.Errorf("chain %d panicked: %v", i, recovered))
		}
	}()

	if err := sem.Acquire(ctx); err != nil {
		return p.chainFailed(ctx, sessionID, i, err)
	}
	defer sem.Release()

	ctx, span := tracer.Start(ctx, "extraction chain")
	defer span.End()
	span.SetAttributes(attribute.Int("event.index", i))

	facts, err := runStage(ctx, p, sessionID, stage.StageFactExtraction, cand,
		func(ctx context.Context) (*stage.Facts, error) {
			return p.Stages.ExtractFacts(ctx, cand.RawText, cand.Description)
		})
	if err != nil {
		return p.chainFailed(ctx, sessionID, i, err)
	}

	draft, err := runStage(ctx, p, sessionID, stage.StageCalendarFormatting, facts,
		func(ctx context.Context) (*stage.Draft, error) {
			return p.Stages.FormatEvent(ctx, facts)
		})
	if err != nil {
		return p.chainFailed(ctx, sessionID, i, err)
	}

	if min := p.Config.MinEventConfidence; min > 0 && draft.Confidence < min {
		return p.chainFailed(ctx, sessionID, i, errors.NewValidation(
			fmt.Sprintf("draft confidence %.2f is below the configured minimum %.2f", draft.Confidence, min)))
	}

	e := draftEvent(sessionID, i, draft)
	if err := e.Validate(); err != nil {
		return p.chainFailed(ctx, sessionID, i, err)
	}
	if lint := event.Lint(e, time.Now()); !lint.Clean {
		logger.WarnContext(ctx, "draft accepted with lint warnings",
			"session_id", sessionID,
			"event_index", i,
			"warnings", lint.Warnings)
	}
	if err := db.InsertEvent(p.DB, e); err != nil {
		return p.chainFailed(ctx, sessionID, i, err)
	}
	if err := db.MarkSessionListable(p.DB, sessionID); err != nil {
		logger.WarnContext(ctx, "failed to mark session listable",
			"session_id", sessionID, "error", err)
	}
	if err := db.RefreshSessionEventCount(p.DB, sessionID); err != nil {
		logger.WarnContext(ctx, "failed to refresh session event count",
			"session_id", sessionID, "error", err)
	}

	chainsRun.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "persisted")))
	p.publish(progress.Notification{
		SessionID:  sessionID,
		Kind:       progress.KindEvent,
		EventIndex: i,
		EventID:    e.ID,
	})
	return nil
}

// chainFailed publishes the per-event failure notification and hands the
// error back as the chain's outcome.
func (p *Pipeline) chainFailed(ctx context.Context, sessionID string, i int, err error) error {
	chainsRun.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	p.publish(progress.Notification{
		SessionID:  sessionID,
		Kind:       progress.KindEvent,
		EventIndex: i,
		Message:    errors.From(err).Message,
	})
	return err
}

// record writes one audit row. Recording failures are logged, never
// fatal; the audit trail must not take down the pipeline.
func (p *Pipeline) record(sessionID, stageName string, in, out any, dur time.Duration, stageErr error) {
	rec := &session.StageRecord{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Stage:         stageName,
		InputSnapshot: snapshot(in),
		OK:            stageErr == nil,
		DurationMS:    dur.Milliseconds(),
		CreatedAt:     time.Now().Unix(),
	}
	if stageErr != nil {
		msg := stageErr.Error()
		rec.ErrorMessage = &msg
	} else {
		rec.OutputSnapshot = snapshot(out)
	}
	if err := db.InsertStageRecord(p.DB, rec); err != nil {
		logger.Warn("failed to record stage",
			"session_id", sessionID, "stage", stageName, "error", err)
	}
}

// publish stamps the wall clock and hands off to the broker.
func (p *Pipeline) publish(n progress.Notification) {
	n.At = time.Now().Unix()
	p.Broker.Publish(n)
}

// draftEvent builds the persisted event for slot i from a formatted
// draft. Version starts at 1; edits bump it from there.
func draftEvent(sessionID string, i int, d *stage.Draft) *event.Event {
	now := time.Now().Unix()
	e := &event.Event{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Position:  i,
		Summary:   event.NormalizeSummary(d.Summary),
		Start:     d.Start,
		End:       d.End,
		AllDay:    d.AllDay,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d.Location != "" {
		e.Location = &d.Location
	}
	if d.Description != "" {
		e.Description = &d.Description
	}
	if d.Recurrence != "" {
		e.Recurrence = &d.Recurrence
	}
	if d.CalendarID != "" {
		e.CalendarID = &d.CalendarID
	}
	return e
}

// ingestSnapshot summarizes a payload for the audit row without
// embedding raw bytes.
func ingestSnapshot(p input.Payload) map[string]any {
	snap := map[string]any{"metadata": p.Metadata}
	if p.Text != "" {
		snap["text"] = p.Text
	}
	if len(p.Data) > 0 {
		snap["bytes"] = len(p.Data)
		snap["mime"] = p.MIME
	}
	return snap
}

func snapshot(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if len(b) > snapshotLimit {
		b = b[:snapshotLimit]
	}
	return string(b)
}
