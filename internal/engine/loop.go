package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"SpotLedger/internal/observability"
)

var ErrLoopStopped = errors.New("engine loop stopped")

// Loop serializes every engine call onto one goroutine, giving each
// externally-submitted call run-to-completion atomicity with no interleaving.
// Successful outputs fan out to three channels: persist (blocking, the log
// write must not be lost), projection and publish (non-blocking, slow
// consumers shed load rather than stall settlement).
type Loop struct {
	engine  *Engine
	log     zerolog.Logger
	metrics *observability.Metrics

	requests chan loopRequest

	persistCh    chan<- Output
	projectionCh chan<- Output
	publishCh    chan<- Output
}

type loopRequest struct {
	fn    func(*Engine) (Output, error)
	emit  bool
	reply chan loopReply
}

type loopReply struct {
	out Output
	err error
}

func NewLoop(engine *Engine, persistCh, projectionCh, publishCh chan<- Output, metrics *observability.Metrics, log zerolog.Logger) *Loop {
	return &Loop{
		engine:       engine,
		log:          log.With().Str("component", "engine-loop").Logger(),
		metrics:      metrics,
		requests:     make(chan loopRequest, 1024),
		persistCh:    persistCh,
		projectionCh: projectionCh,
		publishCh:    publishCh,
	}
}

// Run owns the engine until ctx is canceled. Requests still queued at
// cancellation are answered with ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info().Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			l.drain()
			l.log.Info().Uint64("sequence", l.engine.Sequence()).Msg("engine loop stopped")
			return
		case req := <-l.requests:
			l.handle(req)
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case req := <-l.requests:
			req.reply <- loopReply{err: ErrLoopStopped}
		default:
			return
		}
	}
}

func (l *Loop) handle(req loopRequest) {
	out, err := req.fn(l.engine)
	if err == nil && req.emit && out.Envelope.Sequence > 0 {
		l.emit(out)
	}
	req.reply <- loopReply{out: out, err: err}
}

// emit routes a successful output. The persist send blocks: losing a log
// write would orphan applied state. Projection and publish consumers are
// best-effort views that can be rebuilt, so their sends drop when full.
func (l *Loop) emit(out Output) {
	select {
	case l.persistCh <- out:
	default:
		if l.metrics != nil {
			l.metrics.PersistBackpressure.Inc()
		}
		l.persistCh <- out
	}

	if l.projectionCh != nil {
		select {
		case l.projectionCh <- out:
		default:
			if l.metrics != nil {
				l.metrics.ProjectionDrops.WithLabelValues("balances").Inc()
			}
		}
	}
	if l.publishCh != nil {
		select {
		case l.publishCh <- out:
		default:
			if l.metrics != nil {
				l.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Submit runs one mutating call on the engine goroutine and routes its
// output. Blocks until the call has fully committed or rejected.
func (l *Loop) Submit(ctx context.Context, operation string, fn func(*Engine) (Output, error)) (Output, error) {
	start := time.Now()
	out, err := l.send(ctx, loopRequest{fn: fn, emit: true, reply: make(chan loopReply, 1)})
	if l.metrics != nil {
		l.metrics.CallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, context.Canceled) {
			l.metrics.CallsRejected.WithLabelValues(operation).Inc()
		}
	}
	return out, err
}

// Read runs a read-only closure on the engine goroutine, giving it a
// consistent view between settlement calls.
func (l *Loop) Read(ctx context.Context, fn func(*Engine)) error {
	_, err := l.send(ctx, loopRequest{
		fn: func(e *Engine) (Output, error) {
			fn(e)
			return Output{}, nil
		},
		reply: make(chan loopReply, 1),
	})
	return err
}

func (l *Loop) send(ctx context.Context, req loopRequest) (Output, error) {
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply.out, reply.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}
