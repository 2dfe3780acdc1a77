package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rest-lifecycle/internal/model"
	"rest-lifecycle/internal/queue"
)

type user struct {
	model.BaseResource
	Name string `json:"name"`
}

type chanReceiver chan model.Completion

func (c chanReceiver) Deliver(comp model.Completion) { c <- comp }

func (c chanReceiver) next(t *testing.T) model.Completion {
	t.Helper()
	select {
	case comp := <-c:
		return comp
	case <-time.After(3 * time.Second):
		t.Fatal("no completion delivered")
		return model.Completion{}
	}
}

func testKinds(t *testing.T) *model.Kinds {
	t.Helper()
	kinds := model.NewKinds()
	require.NoError(t, kinds.Register(model.Kind{
		Name: "user",
		New:  func() model.Resource { return &user{BaseResource: model.NewBaseResource()} },
	}))
	return kinds
}

func startTransport(t *testing.T, q queue.Queue, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	tr := New(q, testKinds(t), opts...)
	tr.Run(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, tr.Stop(ctx))
	})
	return tr
}

func TestTransportSuccessDecodesKind(t *testing.T) {
	var gotQuery, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("expand")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"alice"}`))
	}))
	defer srv.Close()

	tr := startTransport(t, queue.NewMemoryQueue(4))
	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{
		ID: "j1", RequestID: "u1", Kind: "user", Verb: model.GET,
		URI: srv.URL + "/users/1", Params: model.Params{"expand": "all"},
	}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, http.StatusOK, comp.ResultCode)
	assert.Equal(t, "u1", comp.Entity.ID())
	assert.Equal(t, "all", gotQuery)
	assert.Equal(t, "u1", gotRequestID)

	res, ok := model.ResourceAs[*user](comp.Entity)
	require.True(t, ok)
	assert.Equal(t, "alice", res.Name)
	assert.Equal(t, model.StateOK, res.State())
	assert.Equal(t, http.StatusOK, res.ResultCode())
	assert.False(t, res.Transacting())
	assert.NoError(t, comp.Session.Release())
}

func TestTransportSendsPayloadAndEchoesOnEmptyBody(t *testing.T) {
	var received map[string]string
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := startTransport(t, queue.NewMemoryQueue(4))
	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{
		ID: "j2", RequestID: "u2", Kind: "user", Verb: model.PUT,
		URI: srv.URL + "/users/2", Payload: json.RawMessage(`{"name":"bob"}`),
	}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, http.StatusNoContent, comp.ResultCode)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "bob", received["name"])

	res, ok := model.ResourceAs[*user](comp.Entity)
	require.True(t, ok)
	assert.Equal(t, "bob", res.Name)
}

func TestTransportServerErrorMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	tr := startTransport(t, queue.NewMemoryQueue(4))
	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{ID: "j3", RequestID: "u3", Kind: "user", Verb: model.GET, URI: srv.URL}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, http.StatusInternalServerError, comp.ResultCode)
	res, ok := model.ResourceAs[*user](comp.Entity)
	require.True(t, ok)
	assert.Empty(t, res.Name)
	assert.Equal(t, model.StateFailed, res.State())
	assert.Equal(t, http.StatusInternalServerError, res.ResultCode())
}

func TestTransportErrorBodyDoesNotReplacePayload(t *testing.T) {
	for name, body := range map[string]string{
		"json":  `{"error":"boom"}`,
		"plain": "boom",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			tr := startTransport(t, queue.NewMemoryQueue(4))
			rcv := make(chanReceiver, 1)
			tr.Start(&model.Job{
				ID: "j-" + name, RequestID: "u-" + name, Kind: "user", Verb: model.POST,
				URI: srv.URL, Payload: json.RawMessage(`{"name":"ann"}`),
			}, rcv)

			comp := rcv.next(t)
			assert.Equal(t, http.StatusUnprocessableEntity, comp.ResultCode)
			res, ok := model.ResourceAs[*user](comp.Entity)
			require.True(t, ok)
			assert.Equal(t, "ann", res.Name)
			assert.Equal(t, model.StateFailed, res.State())
			assert.Equal(t, http.StatusUnprocessableEntity, res.ResultCode())
		})
	}
}

func TestTransportNetworkFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	tr := startTransport(t, queue.NewMemoryQueue(4))
	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{ID: "j4", RequestID: "u4", Kind: "user", Verb: model.GET, URI: addr}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, model.CodeTransportFault, comp.ResultCode)
	assert.Equal(t, model.StateFailed, comp.Entity.Resource().State())
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *model.Job) error { return queue.ErrQueueFull }
func (failingQueue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTransportEnqueueFailureCompletes(t *testing.T) {
	tr := startTransport(t, failingQueue{})
	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{ID: "j5", RequestID: "u5", Kind: "user", Verb: model.GET, URI: "http://unused"}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, model.CodeTransportFault, comp.ResultCode)
	assert.NoError(t, comp.Session.Release())
}

func TestTransportDropsJobsWithoutReceiver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	q := queue.NewMemoryQueue(4)
	require.NoError(t, q.Enqueue(context.Background(), &model.Job{ID: "stale", Verb: model.GET, URI: srv.URL}))
	tr := startTransport(t, q)

	rcv := make(chanReceiver, 1)
	tr.Start(&model.Job{ID: "fresh", RequestID: "f", Verb: model.GET, URI: srv.URL}, rcv)

	comp := rcv.next(t)
	assert.Equal(t, "f", comp.Entity.ID())
	assert.Equal(t, int32(1), hits.Load())
}

func TestTransportRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	tr := startTransport(t, queue.NewMemoryQueue(4), WithRateLimit(20, 1), WithPoolSize(2))
	rcv := make(chanReceiver, 3)

	start := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		tr.Start(&model.Job{ID: id, RequestID: id, Verb: model.GET, URI: srv.URL}, rcv)
	}
	for i := 0; i < 3; i++ {
		rcv.next(t)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	tr := New(queue.NewMemoryQueue(1), model.NewKinds(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.NoError(t, tr.Stop(context.Background()))
	tr.Run(context.Background())
	tr.Run(context.Background())
	assert.NoError(t, tr.Stop(context.Background()))
	assert.NoError(t, tr.Stop(context.Background()))
}
