// Package worker executes transport jobs over HTTP on a pool of goroutines
// and reports one completion per job to the receiver that started it.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rest-lifecycle/internal/metrics"
	"rest-lifecycle/internal/model"
	"rest-lifecycle/internal/queue"
)

const (
	ackTimeout    = 5 * time.Second
	maxLoggedBody = 512
)

// Transport implements lifecycle.Transport on top of a queue and a pool of
// HTTP workers. Failures never escape as errors: they are reported as
// completions with a result code outside the success range.
type Transport struct {
	queue    queue.Queue
	kinds    *model.Kinds
	client   *http.Client
	poolSize int
	limiter  *rate.Limiter
	success  model.SuccessRange
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu        sync.Mutex
	receivers map[string]model.Receiver
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(q queue.Queue, kinds *model.Kinds, opts ...Option) *Transport {
	t := &Transport{
		queue:    q,
		kinds:    kinds,
		poolSize: 5,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		success:   model.DefaultSuccessRange,
		logger:    slog.Default(),
		receivers: make(map[string]model.Receiver),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start queues job and returns immediately. receiver gets exactly one
// completion for it.
func (t *Transport) Start(job *model.Job, receiver model.Receiver) {
	t.mu.Lock()
	t.receivers[job.ID] = receiver
	t.mu.Unlock()
	t.metrics.JobStarted()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		if err := t.queue.Enqueue(ctx, job); err != nil {
			t.logger.Error("enqueue failed",
				slog.String("job_id", job.ID),
				slog.String("request_id", job.RequestID),
				slog.String("error", err.Error()),
			)
			t.metrics.RecordTransportError("enqueue")
			t.complete(job, model.CodeTransportFault, t.decode(job, nil), &session{transport: t})
		}
	}()
}

// Run launches the worker goroutines and returns immediately.
func (t *Transport) Run(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true

	ctx, t.cancel = context.WithCancel(ctx)
	for i := 0; i < t.poolSize; i++ {
		t.wg.Add(1)
		go t.worker(ctx, i)
	}
	t.logger.Info("transport started", slog.Int("workers", t.poolSize))
}

// Stop cancels the workers and waits for them, or for ctx.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("transport stopped")
		return nil
	case <-ctx.Done():
		t.logger.Warn("transport stop timed out")
		return ctx.Err()
	}
}

func (t *Transport) worker(ctx context.Context, id int) {
	defer t.wg.Done()
	for {
		d, err := t.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Error("dequeue failed", slog.Int("worker", id), slog.String("error", err.Error()))
			continue
		}
		t.process(ctx, id, d)
	}
}

func (t *Transport) process(ctx context.Context, workerID int, d *queue.Delivery) {
	job := d.Job
	logger := t.logger.With(
		slog.Int("worker", workerID),
		slog.String("job_id", job.ID),
		slog.String("request_id", job.RequestID),
	)

	if !t.hasReceiver(job.ID) {
		// left over by another process; nobody is waiting for it
		logger.Warn("dropping job without receiver")
		t.ack(d)
		return
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			logger.Warn("rate limiter wait aborted", slog.String("error", err.Error()))
			t.complete(job, model.CodeTransportFault, t.decode(job, nil), &session{transport: t, delivery: d})
			return
		}
	}

	logger.Debug("processing job", slog.String("verb", string(job.Verb)), slog.String("uri", job.URI))
	code, body := t.exchange(ctx, logger, job)
	t.complete(job, code, t.result(logger, job, code, body), &session{transport: t, delivery: d})
}

// result decodes a successful response. A failed exchange echoes the payload
// that was sent, so the request can be sent again unchanged; the error body
// only reaches the log.
func (t *Transport) result(logger *slog.Logger, job *model.Job, code int, body []byte) model.Resource {
	if t.success.Contains(code) {
		return t.decode(job, body)
	}
	if detail := bytes.TrimSpace(body); len(detail) > 0 {
		if len(detail) > maxLoggedBody {
			detail = detail[:maxLoggedBody]
		}
		logger.Warn("request rejected",
			slog.Int("status", code),
			slog.String("body", string(detail)),
		)
	}
	return t.decode(job, nil)
}

// exchange performs the HTTP call. Faults are reported as CodeTransportFault.
func (t *Transport) exchange(ctx context.Context, logger *slog.Logger, job *model.Job) (int, []byte) {
	req, err := newHTTPRequest(ctx, job)
	if err != nil {
		logger.Error("failed to create request", slog.String("error", err.Error()))
		t.metrics.RecordTransportError("request")
		return model.CodeTransportFault, nil
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	t.metrics.RecordExchange(string(job.Verb), time.Since(start))
	if err != nil {
		logger.Warn("network error", slog.String("error", err.Error()))
		t.metrics.RecordTransportError("network")
		return model.CodeTransportFault, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("failed to read response body", slog.String("error", err.Error()))
	}
	logger.Debug("exchange done", slog.Int("status", resp.StatusCode))
	return resp.StatusCode, body
}

func newHTTPRequest(ctx context.Context, job *model.Job) (*http.Request, error) {
	u, err := url.Parse(job.URI)
	if err != nil {
		return nil, err
	}
	if len(job.Params) > 0 {
		q := u.Query()
		for k, v := range job.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if job.Verb != model.GET && len(job.Payload) > 0 {
		body = bytes.NewReader(job.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, string(job.Verb), u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", job.RequestID)
	return req, nil
}

// decode builds the resource returned to the receiver. An empty body echoes
// the payload that was sent.
func (t *Transport) decode(job *model.Job, body []byte) model.Resource {
	data := bytes.TrimSpace(body)
	if len(data) == 0 {
		data = job.Payload
	}
	res := t.kinds.New(job.Kind)
	if len(data) == 0 {
		return res
	}
	if err := json.Unmarshal(data, res); err != nil {
		t.logger.Warn("response does not decode into its kind, keeping raw body",
			slog.String("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.String("error", err.Error()),
		)
		return model.NewRawResource(data)
	}
	return res
}

func (t *Transport) complete(job *model.Job, code int, res model.Resource, s *session) {
	res.SetResultCode(code)
	res.SetTransacting(false)
	if t.success.Contains(code) {
		res.SetState(model.StateOK)
	} else {
		res.SetState(model.StateFailed)
	}

	echo := model.NewRequest(job.RequestID, job.Kind)
	echo.SetVerb(job.Verb)
	echo.SetURI(job.URI)
	echo.SetResultCode(code)
	echo.SetResource(res)

	t.mu.Lock()
	receiver := t.receivers[job.ID]
	delete(t.receivers, job.ID)
	t.mu.Unlock()

	if receiver == nil {
		s.Release()
		return
	}
	receiver.Deliver(model.Completion{ResultCode: code, Entity: echo, Session: s})
}

func (t *Transport) hasReceiver(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.receivers[jobID]
	return ok
}

func (t *Transport) ack(d *queue.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	return d.Ack(ctx)
}

// session acknowledges the delivery once the receiver is done with the completion.
type session struct {
	transport *Transport
	delivery  *queue.Delivery
	once      sync.Once
	err       error
}

func (s *session) Release() error {
	s.once.Do(func() {
		s.transport.metrics.JobReleased()
		if s.delivery != nil {
			s.err = s.transport.ack(s.delivery)
		}
	})
	return s.err
}
