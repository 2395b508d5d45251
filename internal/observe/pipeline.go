package observe

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/curl"
	"github.com/itsnoxius/mockgate/internal/headers"
	"github.com/itsnoxius/mockgate/internal/hub"
	"github.com/itsnoxius/mockgate/pkg/models"
)

const (
	DefaultQueueSize      = 1024
	DefaultWorkers        = 4
	DefaultSinkTimeout    = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// Sink persists one api log. A nil log with a nil error means the row was
// stored but not echoed back.
type Sink interface {
	CreateLog(ctx context.Context, req models.CreateAPILogRequest) (*models.APILog, error)
}

// NopSink discards logs while still letting them be broadcast
type NopSink struct{}

func (NopSink) CreateLog(context.Context, models.CreateAPILogRequest) (*models.APILog, error) {
	return nil, nil
}

// Event is the outcome of one routed request
type Event struct {
	DomainID int64
	Method   string
	// URL is the upstream target the call went to, or would have gone to
	URL            string
	RawQuery       string
	Header         http.Header
	Body           []byte
	Status         int
	ResponseHeader http.Header
	ResponseBody   []byte
	Duration       time.Duration
}

// Options tunes the pipeline
type Options struct {
	QueueSize      int
	Workers        int
	SinkTimeout    time.Duration
	PublishTimeout time.Duration
}

// Stats counts pipeline outcomes since start
type Stats struct {
	Queued    int    `json:"queued"`
	Dropped   uint64 `json:"dropped"`
	Persisted uint64 `json:"persisted"`
	Failed    uint64 `json:"failed"`
}

// Pipeline turns request outcomes into persisted logs and live events off the
// request path. Record never blocks: when the queue is full the event is dropped.
type Pipeline struct {
	sink      Sink
	publisher hub.Publisher
	logger    *zap.Logger
	timeout   time.Duration
	pubWait   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup

	dropped   atomic.Uint64
	persisted atomic.Uint64
	failed    atomic.Uint64
}

// New starts the worker pool
func New(sink Sink, publisher hub.Publisher, opts Options, logger *zap.Logger) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		sink:      sink,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "observe")),
		timeout:   opts.SinkTimeout,
		pubWait:   opts.PublishTimeout,
		queue:     make(chan Event, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Record enqueues ev and reports whether it was accepted
func (p *Pipeline) Record(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.queue <- ev:
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("log queue full, dropping event",
			zap.Int64("domain_id", ev.DomainID),
			zap.String("method", ev.Method),
			zap.String("url", ev.URL))
		return false
	}
}

// Close stops accepting events and waits for queued ones to drain or ctx to end
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a point-in-time view of the counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Queued:    len(p.queue),
		Dropped:   p.dropped.Load(),
		Persisted: p.persisted.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for ev := range p.queue {
		p.process(ev)
	}
}

func (p *Pipeline) process(ev Event) {
	req := BuildLogRequest(ev)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	stored, err := p.sink.CreateLog(ctx, req)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to persist api log",
			zap.Int64("domain_id", ev.DomainID),
			zap.String("method", ev.Method),
			zap.Int("status", ev.Status),
			zap.Error(err))
		return
	}
	p.persisted.Add(1)

	if p.publisher == nil {
		return
	}

	log := completeLog(req, stored)
	room := models.DomainRoom(ev.DomainID)
	event, err := hub.NewEvent(models.EventNewAPILog, room, models.NewAPILogEvent{Log: log})
	if err != nil {
		p.logger.Warn("failed to encode api log event", zap.Error(err))
		return
	}
	// the broadcast gets its own budget whatever the sink call used up
	pubCtx, pubCancel := context.WithTimeout(context.Background(), p.pubWait)
	defer pubCancel()
	if err := p.publisher.Publish(pubCtx, room, event); err != nil {
		p.logger.Warn("failed to publish api log event", zap.String("room", room), zap.Error(err))
	}
}

// BuildLogRequest renders ev as the row to persist, including its curl form
func BuildLogRequest(ev Event) models.CreateAPILogRequest {
	return models.CreateAPILogRequest{
		DomainID: ev.DomainID,
		Headers:  headers.Flatten(ev.Header),
		Body:     string(ev.Body),
		Query:    flattenQuery(ev.RawQuery),
		Method:   strings.ToUpper(ev.Method),
		Status:   ev.Status,
		ToCurl: curl.Build(curl.Request{
			Method:   ev.Method,
			URL:      ev.URL,
			RawQuery: ev.RawQuery,
			Header:   ev.Header,
			Body:     string(ev.Body),
		}),
		ResponseHeaders: headers.Flatten(ev.ResponseHeader),
		ResponseBody:    string(ev.ResponseBody),
		DurationMs:      ev.Duration.Milliseconds(),
	}
}

// completeLog fills in the row from the request when the sink echoed only
// its identity, or nothing at all.
func completeLog(req models.CreateAPILogRequest, stored *models.APILog) models.APILog {
	log := models.APILog{
		DomainID:        req.DomainID,
		Headers:         req.Headers,
		Body:            req.Body,
		Query:           req.Query,
		Method:          req.Method,
		Status:          req.Status,
		ToCurl:          req.ToCurl,
		ResponseHeaders: req.ResponseHeaders,
		ResponseBody:    req.ResponseBody,
		DurationMs:      req.DurationMs,
	}
	if stored != nil {
		log.ID = stored.ID
		log.CreatedAt = stored.CreatedAt
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return log
}

func flattenQuery(raw string) map[string]string {
	out := map[string]string{}
	values, err := url.ParseQuery(raw)
	if err != nil && len(values) == 0 {
		return out
	}
	for k, v := range values {
		out[k] = strings.Join(v, ",")
	}
	return out
}
