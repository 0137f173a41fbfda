package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/handlers"
	"github.com/Priya8975/webhook-ingest-service/internal/idempotency"
	"github.com/Priya8975/webhook-ingest-service/internal/metrics"
	"github.com/Priya8975/webhook-ingest-service/internal/notify"
	"github.com/Priya8975/webhook-ingest-service/internal/router"
	"github.com/Priya8975/webhook-ingest-service/internal/store"
	"github.com/Priya8975/webhook-ingest-service/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(t *testing.T, eventType, body string) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope("swipesblue", eventType, "1700000000", "sig", "", []byte(body))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

const successBody = `{"event":"payment.success","timestamp":"1700000000","data":{"transactionId":"tx1","platformOrderId":"o1","customerEmail":"buyer@example.com"}}`

func newTestDispatcher(t *testing.T, st idempotency.Store, h map[router.EventType]router.Handler, feed Broadcaster, opts Options) *Dispatcher {
	t.Helper()
	r, err := router.New(h)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return NewDispatcher(st, r, feed, testLogger(), opts)
}

func countingHandler(calls *atomic.Int32, err error) router.Handler {
	return router.HandlerFunc(func(context.Context, map[string]any) error {
		calls.Add(1)
		return err
	})
}

func newMemStore() *idempotency.MemoryStore {
	return idempotency.NewMemoryStore(idempotency.Options{})
}

func handlerMap(h router.Handler) map[router.EventType]router.Handler {
	return map[router.EventType]router.Handler{router.PaymentSuccess: h}
}

type recordingFeed struct {
	mu     sync.Mutex
	events []websocket.DispatchEvent
}

func (f *recordingFeed) Broadcast(ev websocket.DispatchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func TestProcess_DuplicateDeliveryRunsHandlerOnce(t *testing.T) {
	var calls atomic.Int32
	st := idempotency.NewMemoryStore(idempotency.Options{})
	feed := &recordingFeed{}
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{
		router.PaymentSuccess: countingHandler(&calls, nil),
	}, feed, Options{})

	env := testEnvelope(t, "payment.success", successBody)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeProcessed {
		t.Fatalf("first delivery = %s, want processed", got)
	}
	if got := d.Process(ctx, env); got != OutcomeDuplicate {
		t.Fatalf("second delivery = %s, want duplicate", got)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}

	ok, err := st.HasProcessed(ctx, env.Identity())
	if err != nil || !ok {
		t.Errorf("HasProcessed = %v, %v; want true", ok, err)
	}

	if len(feed.events) != 2 {
		t.Fatalf("feed events = %d, want 2", len(feed.events))
	}
	if feed.events[0].Outcome != "processed" || feed.events[1].Outcome != "duplicate" {
		t.Errorf("feed outcomes = %s, %s", feed.events[0].Outcome, feed.events[1].Outcome)
	}
	if feed.events[0].EventIdentity != "payment.success-tx1-1700000000" {
		t.Errorf("event identity = %q", feed.events[0].EventIdentity)
	}
}

func TestProcess_FailureAllowsRetry(t *testing.T) {
	var calls atomic.Int32
	fail := true
	h := router.HandlerFunc(func(context.Context, map[string]any) error {
		calls.Add(1)
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	feed := &recordingFeed{}
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{router.PaymentSuccess: h}, feed, Options{})
	env := testEnvelope(t, "payment.success", successBody)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeFailed {
		t.Fatalf("first attempt = %s, want failed", got)
	}
	if ok, _ := st.HasProcessed(ctx, env.Identity()); ok {
		t.Fatal("failed event must not be marked processed")
	}
	if feed.events[0].Error == "" {
		t.Error("failed outcome should carry the error")
	}

	fail = false
	if got := d.Process(ctx, env); got != OutcomeProcessed {
		t.Fatalf("retry = %s, want processed", got)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestProcess_UnknownEventTypeIsMarkedProcessed(t *testing.T) {
	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{}, nil, Options{})
	env := testEnvelope(t, "payment.unknown", `{"data":{"transactionId":"tx9"}}`)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeUnhandled {
		t.Fatalf("outcome = %s, want unhandled", got)
	}
	if ok, _ := st.HasProcessed(ctx, env.Identity()); !ok {
		t.Error("unknown event type should be marked processed")
	}
	if got := d.Process(ctx, env); got != OutcomeDuplicate {
		t.Errorf("redelivery = %s, want duplicate", got)
	}
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	var calls atomic.Int32
	h := router.HandlerFunc(func(context.Context, map[string]any) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{router.PaymentSuccess: h}, nil, Options{})
	env := testEnvelope(t, "payment.success", successBody)

	var wg sync.WaitGroup
	var processed atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Process(context.Background(), env) == OutcomeProcessed {
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if processed.Load() != 1 {
		t.Errorf("processed outcomes = %d, want 1", processed.Load())
	}
}

func TestProcess_HandlerTimeoutIsRetryable(t *testing.T) {
	h := router.HandlerFunc(func(ctx context.Context, _ map[string]any) error {
		<-ctx.Done()
		return ctx.Err()
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{router.PaymentSuccess: h}, nil, Options{
		HandlerTimeout: 30 * time.Millisecond,
	})
	env := testEnvelope(t, "payment.success", successBody)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}

	waitReservable(t, st, env.Identity())
}

// waitReservable polls until id can be reserved again, then releases it.
func waitReservable(t *testing.T, st idempotency.Store, id string) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, ok, err := st.Reserve(ctx, id, time.Minute)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if ok {
			_ = st.Release(ctx, res)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s was never released", id)
}

func TestProcess_TimedOutHandlerKeepsReservationUntilItReturns(t *testing.T) {
	proceed := make(chan struct{})
	var calls atomic.Int32
	h := router.HandlerFunc(func(context.Context, map[string]any) error {
		calls.Add(1)
		<-proceed
		return nil
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, handlerMap(h), nil, Options{HandlerTimeout: 20 * time.Millisecond})
	env := testEnvelope(t, "payment.success", successBody)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}

	// A redelivery while the first handler is still running is a duplicate.
	if got := d.Process(ctx, env); got != OutcomeDuplicate {
		t.Fatalf("redelivery during late handler = %s, want duplicate", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}

	close(proceed)
	waitReservable(t, st, env.Identity())
}

func TestProcess_PanicIsFailure(t *testing.T) {
	h := router.HandlerFunc(func(context.Context, map[string]any) error {
		panic("nil order")
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{router.PaymentSuccess: h}, nil, Options{})
	env := testEnvelope(t, "payment.success", successBody)

	if got := d.Process(context.Background(), env); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	if ok, _ := st.HasProcessed(context.Background(), env.Identity()); ok {
		t.Error("panicking handler must not mark the event processed")
	}
}

type downStore struct{}

func (downStore) Reserve(context.Context, string, time.Duration) (idempotency.Reservation, bool, error) {
	return idempotency.Reservation{}, false, idempotency.Unavailable("reserve", errors.New("connection refused"))
}
func (downStore) Commit(context.Context, idempotency.Reservation, time.Time) error {
	return idempotency.Unavailable("commit", errors.New("connection refused"))
}
func (downStore) Release(context.Context, idempotency.Reservation) error {
	return idempotency.Unavailable("release", errors.New("connection refused"))
}
func (downStore) HasProcessed(context.Context, string) (bool, error) {
	return false, idempotency.Unavailable("has processed", errors.New("connection refused"))
}
func (downStore) MarkProcessed(context.Context, string, time.Time) error {
	return idempotency.Unavailable("mark processed", errors.New("connection refused"))
}

func TestProcess_StoreOutageStillRunsHandler(t *testing.T) {
	var calls atomic.Int32
	d := newTestDispatcher(t, downStore{}, map[router.EventType]router.Handler{
		router.PaymentSuccess: countingHandler(&calls, nil),
	}, nil, Options{})
	env := testEnvelope(t, "payment.success", successBody)

	if got := d.Process(context.Background(), env); got != OutcomeProcessed {
		t.Fatalf("outcome = %s, want processed", got)
	}
	if got := d.Process(context.Background(), env); got != OutcomeProcessed {
		t.Fatalf("outcome = %s, want processed", got)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2 (reprocessing is the fail-safe)", calls.Load())
	}
}

func TestProcess_PaymentSuccessEndToEnd(t *testing.T) {
	ledger := store.NewMemoryLedger()
	h := handlers.New(handlers.Deps{
		Orders:     ledger,
		Clients:    ledger,
		Processing: ledger,
		Mailer:     notify.NewLogMailer(testLogger()),
		Logger:     testLogger(),
	})

	st := idempotency.NewMemoryStore(idempotency.Options{})
	d := newTestDispatcher(t, st, h.Routes(), nil, Options{})
	env := testEnvelope(t, "payment.success", successBody)
	ctx := context.Background()

	if got := d.Process(ctx, env); got != OutcomeProcessed {
		t.Fatalf("outcome = %s, want processed", got)
	}

	order, err := ledger.GetOrder(ctx, "o1")
	if err != nil || order == nil {
		t.Fatalf("GetOrder: %v, %v", order, err)
	}
	if order.Status != "paid" {
		t.Errorf("order status = %q, want paid", order.Status)
	}
	if order.Fields["transactionId"] != "tx1" {
		t.Errorf("transactionId = %v, want tx1", order.Fields["transactionId"])
	}

	if got := d.Process(ctx, env); got != OutcomeDuplicate {
		t.Errorf("redelivery = %s, want duplicate", got)
	}
}

func TestNewDispatcher_RaisesShortLease(t *testing.T) {
	d := newTestDispatcher(t, idempotency.NewMemoryStore(idempotency.Options{}), map[router.EventType]router.Handler{}, nil, Options{
		HandlerTimeout: time.Minute,
		Lease:          time.Second,
	})
	if d.lease <= d.handlerTimeout {
		t.Errorf("lease %s should exceed handler timeout %s", d.lease, d.handlerTimeout)
	}
}

// slowReserveStore delays Reserve to separate store latency from handler time.
type slowReserveStore struct {
	*idempotency.MemoryStore
	delay time.Duration
}

func (s slowReserveStore) Reserve(ctx context.Context, id string, lease time.Duration) (idempotency.Reservation, bool, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Reserve(ctx, id, lease)
}

func handlerDurationSum(t *testing.T, eventType string) (float64, uint64) {
	t.Helper()
	m := &dto.Metric{}
	if err := metrics.HandlerDuration.WithLabelValues(eventType).(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("reading histogram: %v", err)
	}
	return m.GetHistogram().GetSampleSum(), m.GetHistogram().GetSampleCount()
}

func TestProcess_HandlerDurationExcludesReserve(t *testing.T) {
	var calls atomic.Int32
	st := slowReserveStore{MemoryStore: newMemStore(), delay: 200 * time.Millisecond}
	d := newTestDispatcher(t, st, map[router.EventType]router.Handler{
		router.MerchantApproved: countingHandler(&calls, nil),
	}, nil, Options{})

	sumBefore, countBefore := handlerDurationSum(t, "merchant.approved")
	env := testEnvelope(t, "merchant.approved", `{"data":{"merchantId":"m1"}}`)
	if got := d.Process(context.Background(), env); got != OutcomeProcessed {
		t.Fatalf("outcome = %s, want processed", got)
	}
	sumAfter, countAfter := handlerDurationSum(t, "merchant.approved")

	if countAfter != countBefore+1 {
		t.Fatalf("observations = %d, want %d", countAfter, countBefore+1)
	}
	if got := sumAfter - sumBefore; got >= 0.1 {
		t.Errorf("handler duration = %.3fs, includes reserve latency", got)
	}
}
