package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dualbond/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
	defaultDrainTime   = 5 * time.Second

	// HeaderEvent carries the event type of a delivery.
	HeaderEvent = "X-Bond-Event"
	// HeaderSignature carries the hex HMAC-SHA256 of the body.
	HeaderSignature = "X-Bond-Signature"
)

// Payload is the body posted for every bond event.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Type       string            `json:"type"`
	Bond       string            `json:"bond"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Dispatcher forwards bond events to an HTTP endpoint with retry and
// exponential backoff. It implements events.Emitter; deliveries happen on a
// background worker so emitting never blocks the engine.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	drainTime   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan delivery
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ events.Emitter = (*Dispatcher)(nil)

type delivery struct {
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithDrainTimeout bounds how long Close keeps delivering queued events.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.drainTime = timeout
		}
	}
}

// WithLogger sets the logger used for dropped and failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		drainTime:   defaultDrainTime,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops accepting events and gives queued deliveries up to the drain
// timeout to go out. Deliveries still pending after that are dropped and
// counted in the log.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.closeOnce.Do(func() {
		close(d.closing)
		timer := time.AfterFunc(d.drainTime, d.cancel)
		d.wg.Wait()
		timer.Stop()
		d.cancel()
	})
	return nil
}

// Emit implements events.Emitter. Events are dropped when the queue is full.
func (d *Dispatcher) Emit(evt events.Event) {
	if err := d.Enqueue(evt); err != nil {
		d.logger.Warn("bond webhook dropped",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Enqueue schedules evt for delivery without blocking.
func (d *Dispatcher) Enqueue(evt events.Event) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	bondEvt, ok := evt.(events.BondEvent)
	if !ok {
		return fmt.Errorf("webhook: unsupported event %T", evt)
	}
	rendered := bondEvt.Event()
	payload := Payload{
		DeliveryID: uuid.NewString(),
		Type:       rendered.Type,
		Bond:       bondEvt.BondAddress().Hex(),
		Attributes: rendered.Attributes,
		EmittedAt:  d.now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-d.closing:
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, body: data}:
		return nil
	default:
		return errors.New("webhook: queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.closing:
			d.drain()
			return
		default:
		}
		select {
		case job := <-d.queue:
			if !d.process(job) {
				d.drain(job)
				return
			}
		case <-d.closing:
		}
	}
}

// drain makes one attempt per pending and queued delivery. Once the drain
// deadline cancels the dispatcher context the rest are dropped.
func (d *Dispatcher) drain(pending ...delivery) {
	delivered, dropped := 0, 0
	for {
		var job delivery
		if len(pending) > 0 {
			job, pending = pending[0], pending[1:]
		} else {
			select {
			case job = <-d.queue:
			default:
				if dropped > 0 {
					d.logger.Warn("bond webhook deliveries dropped",
						slog.Int("delivered", delivered),
						slog.Int("dropped", dropped))
				}
				return
			}
		}
		if d.ctx.Err() != nil {
			dropped++
			continue
		}
		ctx, cancel := d.attemptContext()
		err := d.send(ctx, job)
		cancel()
		if err != nil {
			dropped++
			continue
		}
		delivered++
	}
}

func (d *Dispatcher) attemptContext() (context.Context, context.CancelFunc) {
	if d.client.Timeout > 0 {
		return context.WithTimeout(d.ctx, d.client.Timeout)
	}
	return context.WithCancel(d.ctx)
}

// process delivers job with retries. It reports false when Close interrupts
// the backoff so the caller can hand the job to drain.
func (d *Dispatcher) process(job delivery) bool {
	backoff := d.minBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := d.attemptContext()
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return true
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("bond webhook delivery failed",
				slog.String("type", job.eventType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return true
		}
		select {
		case <-time.After(backoff):
		case <-d.closing:
			return false
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit || next < current {
		return limit
	}
	return next
}
