// Package notify delivers best-effort settlement notices to payers and the
// operator audit channel. Delivery runs strictly after settlement has
// committed, off the critical path: a full queue drops the notice and a
// failing sink only logs. Nothing here can roll back a settlement.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/observability"
)

// ─── Sinks ──────────────────────────────────────────────────────────────────

// LogSink writes notices to the process log. Default sink.
type LogSink struct{}

// Notify implements domain.Notifier.
func (LogSink) Notify(_ context.Context, n domain.Notice) error {
	if n.Credits > 0 {
		log.Printf("notice: payer %s order %s %s, +%d credits, balance %d",
			n.PayerRef, n.OrderID, n.Status, n.Credits, n.NewBalance)
	} else {
		log.Printf("notice: payer %s order %s %s", n.PayerRef, n.OrderID, n.Status)
	}
	return nil
}

// WebhookSink POSTs notices as JSON to an outbound relay (the chat bridge
// that turns them into messages lives behind that URL).
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a sink with a bounded request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements domain.Notifier.
func (s *WebhookSink) Notify(ctx context.Context, n domain.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify relay returned %s", resp.Status)
	}
	return nil
}

// ─── Dispatcher ─────────────────────────────────────────────────────────────

// Dispatcher decouples settlement from delivery with a bounded queue and a
// single worker. Enqueueing never blocks; when the queue is full the notice
// is dropped and counted, not retried indefinitely.
type Dispatcher struct {
	sink  domain.Notifier
	queue chan domain.Notice

	wg      sync.WaitGroup
	once    sync.Once
	closing chan struct{}
}

// NewDispatcher starts the delivery worker. queueSize bounds the backlog.
func NewDispatcher(sink domain.Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan domain.Notice, queueSize),
		closing: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify implements domain.Notifier. It enqueues and returns immediately;
// the returned error is always nil so settlement callers cannot be failed
// by delivery problems.
func (d *Dispatcher) Notify(_ context.Context, n domain.Notice) error {
	select {
	case <-d.closing:
		return nil
	default:
	}
	select {
	case d.queue <- n:
	default:
		observability.NoticesDropped.Inc()
		log.Printf("notify: queue full, dropping notice for order %s", n.OrderID)
	}
	return nil
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.closing) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.closing:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n domain.Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.sink.Notify(ctx, n); err != nil {
		log.Printf("notify: delivery failed for order %s: %v", n.OrderID, err)
	}
}
