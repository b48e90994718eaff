// Package engine drives the oplog tail: it reads change records in order,
// dispatches each to the handler bound to its namespace and checkpoints the
// position once the handler has returned.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/moplog/moplog/checkpoint"
	"github.com/moplog/moplog/handler"
	"github.com/moplog/moplog/oplog"
	"github.com/moplog/moplog/telemetry"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// State is the engine's position in its lifecycle
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	WaitingToResume
	ShuttingDown
	Terminated
)

var stateNames = [...]string{
	Disconnected:    "disconnected",
	Connecting:      "connecting",
	Streaming:       "streaming",
	WaitingToResume: "waiting",
	ShuttingDown:    "shutting_down",
	Terminated:      "terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Router selects the handler for a namespace
type Router interface {
	Resolve(ns string) (handler.Handler, string, bool)
}

// Checkpointer owns the runtime configuration and the persisted position
type Checkpointer interface {
	Config() checkpoint.RuntimeConfig
	Save(pos oplog.Position) error
}

// Config contains the collaborators required by New.
type Config struct {
	Source     oplog.Source
	Checkpoint Checkpointer
	Router     Router
	// Clock allows tests to control the resume timer and lag.
	Clock clock.Clock
}

// Validate ensures that all the values that have to be set are set.
func (config Config) Validate() error {
	if config.Source == nil {
		return errors.New("missing Source")
	}
	if config.Checkpoint == nil {
		return errors.New("missing Checkpoint")
	}
	if config.Router == nil {
		return errors.New("missing Router")
	}
	if config.Clock == nil {
		return errors.New("missing Clock")
	}
	return nil
}

// Engine tails the source until killed or a fatal error occurs.
type Engine struct {
	tomb       tomb.Tomb
	source     oplog.Source
	checkpoint Checkpointer
	router     Router
	clock      clock.Clock
	backend    string

	state atomic.Int32
	last  atomic.Uint64
}

// New starts an engine resuming from the checkpointed position.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		source:     config.Source,
		checkpoint: config.Checkpoint,
		router:     config.Router,
		clock:      config.Clock,
		backend:    backendName(config.Checkpoint),
	}
	e.last.Store(config.Checkpoint.Config().Position().Uint64())
	e.setState(Disconnected)

	e.tomb.Go(func() error {
		err := e.loop()
		if err != nil && err != tomb.ErrDying {
			log.Error().Err(err).Msg("Engine stopped")
		}
		return err
	})
	return e, nil
}

// Kill requests a graceful shutdown.
func (e *Engine) Kill() {
	e.tomb.Kill(nil)
}

// Wait blocks until the engine has terminated. It returns nil after a
// requested shutdown and a *FatalError otherwise.
func (e *Engine) Wait() error {
	return e.tomb.Wait()
}

// Dead returns a channel that is closed when the engine has terminated.
func (e *Engine) Dead() <-chan struct{} {
	return e.tomb.Dead()
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LastPosition returns the position of the last processed record.
func (e *Engine) LastPosition() oplog.Position {
	return oplog.PositionFromUint64(e.last.Load())
}

// LastPositionSeconds returns the wall clock seconds of LastPosition.
func (e *Engine) LastPositionSeconds() int64 {
	return e.LastPosition().WallClock().Unix()
}

// CurrentConfig returns a snapshot of the runtime configuration.
func (e *Engine) CurrentConfig() checkpoint.RuntimeConfig {
	return e.checkpoint.Config()
}

// CurrentLag returns whole minutes between now and the wall clock time of
// the last processed position, rounded down.
func (e *Engine) CurrentLag() int64 {
	ms := e.clock.Now().Sub(e.LastPosition().WallClock()).Milliseconds()
	return floorDiv(ms, time.Minute.Milliseconds())
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Report exposes runtime details for the status API.
func (e *Engine) Report() map[string]interface{} {
	pos := e.LastPosition()
	return map[string]interface{}{
		"state":        e.State().String(),
		"position":     pos.String(),
		"lastTs":       pos.FloorMillis(),
		"lagInMinutes": e.CurrentLag(),
	}
}

func backendName(c Checkpointer) string {
	switch c.(type) {
	case *checkpoint.FileStore:
		return "file"
	case *checkpoint.PebbleStore:
		return "pebble"
	default:
		return "custom"
	}
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	telemetry.EngineState.Set(float64(s))
	if prev != s {
		log.Debug().Stringer("from", prev).Stringer("to", s).Msg("Engine state")
	}
}

func (e *Engine) loop() error {
	defer e.setState(Terminated)

	ctx := e.tomb.Context(nil)
	rc := e.checkpoint.Config()
	period := rc.PeriodDuration()

	e.setState(Connecting)
	log.Info().
		Str("position", e.LastPosition().String()).
		Int("period_ms", rc.Period).
		Int("namespaces", len(rc.Collections)).
		Msg("Starting oplog tail")

	err := e.source.Connect(ctx)
	defer e.closeSource()
	if err != nil {
		return e.dyingOr(&FatalError{Kind: ConnectFailure, Err: err})
	}

	for {
		after := e.LastPosition()
		cursor, err := e.source.Open(ctx, after)
		if err != nil {
			telemetry.CursorOpensTotal.With("failed").Inc()
			return e.dyingOr(&FatalError{Kind: ConnectFailure, Err: err})
		}
		telemetry.CursorOpensTotal.With("success").Inc()
		log.Debug().Str("after", after.String()).Msg("Cursor opened")

		e.setState(Streaming)
		if err := e.stream(ctx, cursor); err != nil {
			return err
		}

		e.setState(WaitingToResume)
		telemetry.BatchesTotal.Inc()
		log.Debug().Dur("period", period).Msg("End of batch, waiting to resume")

		select {
		case <-e.tomb.Dying():
			e.setState(ShuttingDown)
			return tomb.ErrDying
		case <-e.clock.After(period):
		}
		e.setState(Connecting)
	}
}

// stream processes records until the end of the batch. The cursor is
// closed on every return path; on shutdown it is paused first.
func (e *Engine) stream(ctx context.Context, cursor oplog.Cursor) error {
	for {
		select {
		case <-e.tomb.Dying():
			return e.shutdown(cursor)
		default:
		}

		rec, err := cursor.Next(ctx)
		if err != nil {
			if e.dying() {
				return e.shutdown(cursor)
			}
			cursor.Close()
			if oplog.IsEndOfBatch(err) {
				return nil
			}
			return &FatalError{Kind: StreamFailure, Err: err}
		}

		if err := e.process(rec); err != nil {
			cursor.Close()
			return err
		}
	}
}

func (e *Engine) process(rec oplog.ChangeRecord) error {
	telemetry.RecordsTotal.With(rec.Kind.String()).Inc()

	if rec.Kind == oplog.KindNoop {
		return nil
	}

	last := e.LastPosition()
	if !last.Less(rec.Position) {
		log.Debug().
			Str("position", rec.Position.String()).
			Str("last", last.String()).
			Msg("Skipping already processed record")
		return nil
	}

	if rec.Kind == oplog.KindUnknown {
		op, _ := rec.Raw["op"].(string)
		log.Warn().Str("op", op).Str("ns", rec.Namespace).Msg("Unsupported op type")
	} else if err := e.dispatch(rec); err != nil {
		return err
	}

	e.last.Store(rec.Position.Uint64())

	start := time.Now()
	err := e.checkpoint.Save(rec.Position)
	telemetry.CheckpointDurationSeconds.With(e.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.CheckpointWritesTotal.With("failed").Inc()
		log.Error().Err(err).Str("position", rec.Position.String()).Msg("Failed to persist checkpoint")
		return nil
	}
	telemetry.CheckpointWritesTotal.With("success").Inc()
	return nil
}

func (e *Engine) dispatch(rec oplog.ChangeRecord) error {
	h, name, ok := e.router.Resolve(rec.Namespace)
	if !ok {
		telemetry.UnroutedTotal.Inc()
		return nil
	}

	start := time.Now()
	invoked, err := handler.Dispatch(h, rec)
	telemetry.DispatchDurationSeconds.With(name).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		telemetry.DispatchTotal.With(name, rec.Kind.String(), "failed").Inc()
		return &FatalError{Kind: HandlerFailure, Err: fmt.Errorf("handler %s: %w", name, err)}
	case invoked:
		telemetry.DispatchTotal.With(name, rec.Kind.String(), "success").Inc()
	default:
		telemetry.DispatchTotal.With(name, rec.Kind.String(), "skipped").Inc()
	}
	return nil
}

func (e *Engine) shutdown(cursor oplog.Cursor) error {
	e.setState(ShuttingDown)
	cursor.Pause()
	if err := cursor.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close cursor")
	}
	return tomb.ErrDying
}

func (e *Engine) closeSource() {
	if err := e.source.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close source")
	}
}

func (e *Engine) dying() bool {
	select {
	case <-e.tomb.Dying():
		return true
	default:
		return false
	}
}

// dyingOr returns tomb.ErrDying when a shutdown interrupted the operation
// that produced err.
func (e *Engine) dyingOr(err error) error {
	if e.dying() {
		e.setState(ShuttingDown)
		return tomb.ErrDying
	}
	return err
}
