package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
	"voxstream/internal/pacing"
	"voxstream/internal/ports"
)

var defaultEndOfStream = map[string]int{"eof": 1}

// Config bounds the blocking phases of a session.
type Config struct {
	ConnectTimeout time.Duration
	CloseGrace     time.Duration
	DrainTimeout   time.Duration

	// NewPacer picks the pacing policy for an opened source.
	NewPacer func(ports.ChunkSource) ports.Pacer
	Now      func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 2 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.NewPacer == nil {
		c.NewPacer = pacing.For
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SessionController runs one streaming session from connect to close.
type SessionController struct {
	dialer   ports.TransportDialer
	opener   ports.SourceOpener
	renderer ports.Renderer
	logger   zerolog.Logger
	cfg      Config

	mu          sync.Mutex
	started     bool
	state       domain.SessionState
	transitions []domain.SessionState
}

func NewSessionController(
	dialer ports.TransportDialer,
	opener ports.SourceOpener,
	renderer ports.Renderer,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	return &SessionController{
		dialer:   dialer,
		opener:   opener,
		renderer: renderer,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// State returns the current lifecycle state.
func (c *SessionController) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects, streams the source, drains trailing results, and closes.
// Cancelling ctx requests a graceful stop. The returned error is non-nil
// when the session failed.
func (c *SessionController) Run(ctx context.Context, endpoint domain.StreamEndpoint) (domain.SessionReport, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return domain.SessionReport{}, domain.ErrSessionStarted
	}
	c.started = true
	c.mu.Unlock()

	id := uuid.NewString()
	log := c.logger.With().Str("session", id).Logger()
	began := c.cfg.Now()

	c.setState(log, domain.SessionStateConnecting)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	transport, err := c.dialer.Dial(dialCtx, endpoint)
	cancelDial()
	if err != nil {
		if !errors.Is(err, domain.ErrConnect) {
			err = fmt.Errorf("%w: %w", domain.ErrConnect, err)
		}
		log.Error().Err(err).Msg("connect failed")
		c.renderer.SessionError(domain.ErrorCodeConnect, err.Error())
		c.setState(log, domain.SessionStateFailed)
		return c.report(id, began, nil), err
	}
	log.Info().Dur("latency", c.cfg.Now().Sub(began)).Msg("transport connected")

	active := newActiveSession(transport, endpoint.EndOfStream)
	active.reconciler = NewResultReconciler(began, c.cfg.Now, c.renderer.FirstWord)
	go consumeTranscriptEvents(transport, active.reconciler, c.renderer, active.eventsDone)

	if endpoint.InitialControl != nil {
		if err := transport.SendControl(endpoint.InitialControl); err != nil {
			return c.teardown(ctx, log, id, began, active, failure{
				code: domain.ErrorCodeTransport,
				err:  wrapTransportErr(err, "failed to send stream config"),
			})
		}
	}

	source, err := c.opener.Open(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSource) {
			err = fmt.Errorf("%w: %w", domain.ErrSource, err)
		}
		if ctx.Err() != nil {
			return c.teardown(ctx, log, id, began, active, failure{})
		}
		return c.teardown(ctx, log, id, began, active, failure{code: domain.ErrorCodeSource, err: err})
	}
	active.source = source
	log.Info().Str("source", c.opener.Describe()).Bool("live", source.Live()).Msg("source opened")

	pumpCtx, stopPump := context.WithCancel(ctx)
	active.stopPump = stopPump
	active.pumpRunning = true
	c.setState(log, domain.SessionStateStreaming)
	go pumpAudioChunks(pumpCtx, source, c.cfg.NewPacer(source), transport, active.pumpDone)

	outcome := c.stream(ctx, log, active)
	return c.teardown(ctx, log, id, began, active, outcome)
}

// failure is the reason a session leaves the happy path. A zero failure
// means a graceful close.
type failure struct {
	code domain.ErrorCode
	err  error
}

func (c *SessionController) stream(ctx context.Context, log zerolog.Logger, active *activeSession) failure {
	pumpDone := active.pumpDone
	var drainC <-chan time.Time

	for {
		select {
		case res := <-pumpDone:
			pumpDone = nil
			active.pumpRunning = false
			active.audio = res.audio
			if res.err != nil {
				if ctx.Err() != nil {
					return failure{}
				}
				code := domain.ErrorCodeSource
				if errors.Is(res.err, domain.ErrTransport) {
					if c.closedByServer(active.transport) {
						log.Info().Msg("server closed the stream")
						return failure{}
					}
					code = domain.ErrorCodeTransport
				}
				return failure{code: code, err: res.err}
			}

			log.Info().Int("chunks", res.chunks).Dur("audio", res.audio).Msg("source exhausted")
			c.setState(log, domain.SessionStateDraining)
			if err := active.sendEndOfStream(); err != nil {
				if c.closedByServer(active.transport) {
					log.Info().Msg("server closed the stream")
					return failure{}
				}
				return failure{code: domain.ErrorCodeTransport, err: wrapTransportErr(err, "failed to send end of stream")}
			}
			drain := time.NewTimer(c.cfg.DrainTimeout)
			defer drain.Stop()
			drainC = drain.C
		case <-ctx.Done():
			log.Info().Msg("stop requested")
			return failure{}
		case <-drainC:
			log.Warn().Dur("timeout", c.cfg.DrainTimeout).Msg("server did not close after end of stream")
			return failure{}
		case <-active.transport.Done():
			if err := active.transport.Err(); err != nil {
				return failure{code: domain.ErrorCodeTransport, err: err}
			}
			log.Info().Msg("server closed the stream")
			return failure{}
		}
	}
}

// closedByServer reports whether a failed send was caused by the server
// closing the stream normally. The send can fail just before Done fires.
func (c *SessionController) closedByServer(transport ports.Transport) bool {
	if transport.Err() != nil {
		return false
	}
	timer := time.NewTimer(c.cfg.CloseGrace)
	defer timer.Stop()
	select {
	case <-transport.Done():
		return transport.Err() == nil
	case <-timer.C:
		return false
	}
}

func (c *SessionController) teardown(
	ctx context.Context,
	log zerolog.Logger,
	id string,
	began time.Time,
	active *activeSession,
	outcome failure,
) (domain.SessionReport, error) {
	transport := active.transport
	active.stopPump()

	if outcome.err != nil {
		c.fail(log, outcome)
		if err := transport.Close(domain.CloseInternalError, "client error", c.cfg.CloseGrace); err != nil {
			log.Debug().Err(err).Msg("transport closed with error")
		}
		c.waitPump(log, active)
	} else {
		c.setState(log, domain.SessionStateClosing)
		c.waitPump(log, active)
		if !active.eofSent && !isDone(transport.Done()) {
			if err := active.sendEndOfStream(); err != nil {
				log.Warn().Err(err).Msg("end of stream not sent")
			}
		}
		if err := transport.Close(domain.CloseNormal, "client stop", c.cfg.CloseGrace); err != nil {
			outcome = failure{code: domain.ErrorCodeTransport, err: err}
			c.fail(log, outcome)
		}
	}

	<-transport.Done()
	<-active.eventsDone
	active.releaseSource(log)

	c.setState(log, domain.SessionStateClosed)
	report := c.report(id, began, active)
	c.renderer.Finished(report.Duration)
	log.Info().
		Dur("duration", report.Duration).
		Int("chunks", report.Stats.SentChunks).
		Int("events", report.Stats.RecvEvents).
		Int("malformed", report.Stats.MalformedEvents).
		Int("close_code", report.CloseCode).
		Msg("session finished")

	if outcome.err == nil && ctx.Err() != nil {
		log.Debug().Err(ctx.Err()).Msg("session stopped by caller")
	}
	return report, outcome.err
}

func (c *SessionController) fail(log zerolog.Logger, outcome failure) {
	log.Error().Err(outcome.err).Str("code", string(outcome.code)).Msg("session failed")
	c.renderer.SessionError(outcome.code, outcome.err.Error())
	c.setState(log, domain.SessionStateFailed)
}

func (c *SessionController) waitPump(log zerolog.Logger, active *activeSession) {
	if !active.pumpRunning {
		return
	}
	res, ok := waitForPump(active.pumpDone, c.cfg.CloseGrace+pumpStopSlack)
	if !ok {
		log.Warn().Msg("audio pump did not stop in time")
		return
	}
	active.pumpRunning = false
	active.audio = res.audio
}

func (c *SessionController) report(id string, began time.Time, active *activeSession) domain.SessionReport {
	report := domain.SessionReport{
		ID:       id,
		Duration: c.cfg.Now().Sub(began),
	}

	c.mu.Lock()
	report.FinalState = c.state
	report.Transitions = append([]domain.SessionState(nil), c.transitions...)
	c.mu.Unlock()

	if active == nil {
		return report
	}
	report.Transcript = active.reconciler.Transcript()
	report.FirstWord, report.HasFirst = active.reconciler.FirstWord()
	report.Stats = active.transport.Stats()
	report.Stats.AudioDuration = active.audio
	report.CloseCode, report.CloseReason = active.transport.CloseStatus()
	return report
}

// setState records a transition. Leaving Closed is never allowed, and Failed
// only moves on to Closed.
func (c *SessionController) setState(log zerolog.Logger, state domain.SessionState) {
	c.mu.Lock()
	switch {
	case c.state == state,
		c.state == domain.SessionStateClosed,
		c.state == domain.SessionStateFailed && state != domain.SessionStateClosed:
		c.mu.Unlock()
		return
	}
	c.state = state
	c.transitions = append(c.transitions, state)
	c.mu.Unlock()

	log.Debug().Str("state", string(state)).Msg("session state changed")
	c.renderer.SessionStateChanged(state)
}

func wrapTransportErr(err error, msg string) error {
	if errors.Is(err, domain.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransport, msg, err)
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
