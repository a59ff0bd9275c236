// Package pipeline implements the debounced rebuild pipeline.
//
// Requests are coalesced: each Request restarts a quiescence window and
// replaces any request still waiting in it, so only the input present when
// the window finally elapses is rendered. Every request is tagged with a
// monotonically increasing sequence number that travels with its Result;
// consumers compare it against Latest to drop results that were overtaken
// by a newer request while the render was in flight. In-flight renders are
// never cancelled by newer requests, only by Close.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/logging"
)

// DefaultDelay is the quiescence window used when none is configured.
const DefaultDelay = 500 * time.Millisecond

// Input is the document triple a render is computed from.
type Input struct {
	Template string
	Model    string
	Data     string
}

// Result is the outcome of one render attempt.
type Result struct {
	Seq      uint64
	Input    Input
	Output   string
	Err      error
	Duration time.Duration
}

// RenderFunc produces derived output for an input triple.
type RenderFunc func(ctx context.Context, in Input) (string, error)

// Sink receives every completed render, stale or not. It is called from the
// render goroutine and must not call back into the Pipeline's Close.
type Sink func(Result)

// Metrics counts pipeline activity.
type Metrics struct {
	Requested  uint64 `json:"requested"`
	Superseded uint64 `json:"superseded"`
	Executed   uint64 `json:"executed"`
	Succeeded  uint64 `json:"succeeded"`
	Failed     uint64 `json:"failed"`

	// Stale counts results the sink discarded because a newer request had
	// been issued. See MarkStale.
	Stale uint64 `json:"stale"`
}

// Options configures a Pipeline.
type Options struct {
	// Delay is the quiescence window. Zero means DefaultDelay.
	Delay time.Duration
	// Timeout bounds a single render. Zero means no timeout.
	Timeout time.Duration
	Logger  logging.Logger
}

type request struct {
	seq   uint64
	input Input
}

// Pipeline debounces render requests and reports their results to a Sink.
type Pipeline struct {
	render  RenderFunc
	sink    Sink
	delay   time.Duration
	timeout time.Duration
	logger  logging.Logger

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    *request
	seq        uint64
	inflight   int
	idle       chan struct{}
	idleClosed bool
	closed     bool
	metrics    Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pipeline. render and sink must be non-nil.
func New(render RenderFunc, sink Sink, opts Options) *Pipeline {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Pipeline{
		render:     render,
		sink:       sink,
		delay:      opts.Delay,
		timeout:    opts.Timeout,
		logger:     opts.Logger.WithComponent("pipeline"),
		idle:       idle,
		idleClosed: true,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Request schedules a render of in after the quiescence window, replacing
// any request still waiting. It returns the sequence number assigned to the
// request, or 0 if the pipeline is closed.
func (p *Pipeline) Request(in Input) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}

	p.seq++
	p.metrics.Requested++
	if p.pending != nil {
		p.metrics.Superseded++
		p.logger.Debug(p.ctx, "Superseded pending rebuild", "seq", p.pending.seq, "by", p.seq)
	}
	p.pending = &request{seq: p.seq, input: in}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.generation++
	generation := p.generation
	p.timer = time.AfterFunc(p.delay, func() { p.fire(generation) })

	p.markBusyLocked()
	return p.seq
}

// Latest returns the sequence number of the most recently issued request.
func (p *Pipeline) Latest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Busy reports whether a request is waiting or a render is running.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil || p.inflight > 0
}

// Metrics returns a copy of the activity counters.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// MarkStale records that the sink dropped a result answering an outdated
// request.
func (p *Pipeline) MarkStale() {
	p.mu.Lock()
	p.metrics.Stale++
	p.mu.Unlock()
}

// Wait blocks until no request is waiting and no render is running, or ctx
// is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close discards any waiting request, cancels in-flight renders and waits
// for their goroutines to finish. Results of cancelled renders are still
// delivered to the sink.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.markIdleLocked()
	p.mu.Unlock()
}

func (p *Pipeline) fire(generation uint64) {
	p.mu.Lock()
	if p.closed || generation != p.generation || p.pending == nil {
		p.mu.Unlock()
		return
	}
	req := *p.pending
	p.pending = nil
	p.timer = nil
	p.inflight++
	p.wg.Add(1)
	p.mu.Unlock()

	p.execute(req)
}

func (p *Pipeline) execute(req request) {
	defer p.wg.Done()

	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	op := logging.StartOperation(p.logger, "rebuild")
	output, err := p.safeRender(ctx, req.input)
	result := Result{
		Seq:      req.seq,
		Input:    req.input,
		Output:   output,
		Err:      err,
		Duration: op.Elapsed(),
	}
	if err != nil {
		op.EndWithError(ctx, err, "seq", req.seq)
	} else {
		op.End(ctx, "seq", req.seq)
	}

	p.sink(result)

	p.mu.Lock()
	p.inflight--
	p.metrics.Executed++
	if err != nil {
		p.metrics.Failed++
	} else {
		p.metrics.Succeeded++
	}
	if p.pending == nil && p.inflight == 0 {
		p.markIdleLocked()
	}
	p.mu.Unlock()
}

func (p *Pipeline) safeRender(ctx context.Context, in Input) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renderer panicked: %v", r)
		}
	}()
	return p.render(ctx, in)
}

func (p *Pipeline) markBusyLocked() {
	if p.idleClosed {
		p.idle = make(chan struct{})
		p.idleClosed = false
	}
}

func (p *Pipeline) markIdleLocked() {
	if !p.idleClosed {
		close(p.idle)
		p.idleClosed = true
	}
}
