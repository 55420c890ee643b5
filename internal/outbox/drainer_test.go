package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingTransmitter struct {
	mu   sync.Mutex
	errs []error
	sent []string
}

func (r *recordingTransmitter) Transmit(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m.Body)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func (r *recordingTransmitter) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(eventType string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
}

func TestDrainOnceSent(t *testing.T) {
	t.Parallel()

	o := New(openTestDB(t))
	ctx := context.Background()
	id, err := o.Enqueue(ctx, EnqueueRequest{Destination: "112", Body: "help"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	tx := &recordingTransmitter{}
	pub := &recordingPublisher{}
	var transitions []Status
	dr := NewDrainer(o, tx, WithPublisher(pub), WithTransitionHook(func(s Status) { transitions = append(transitions, s) }))

	processed, err := dr.DrainOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("DrainOnce: processed=%v err=%v", processed, err)
	}

	m, _ := o.Get(ctx, id)
	if m.Status != StatusSent {
		t.Fatalf("status = %s, want sent", m.Status)
	}
	if len(pub.events) != 1 || pub.events[0] != EventSent {
		t.Fatalf("events = %v", pub.events)
	}
	if len(transitions) != 1 || transitions[0] != StatusSent {
		t.Fatalf("transitions = %v", transitions)
	}

	processed, err = dr.DrainOnce(ctx)
	if err != nil || processed {
		t.Fatalf("DrainOnce on empty outbox: processed=%v err=%v", processed, err)
	}
}

func TestDrainOnceFailureRequeues(t *testing.T) {
	t.Parallel()

	o := New(openTestDB(t), WithMaxAttempts(1))
	ctx := context.Background()
	id, err := o.Enqueue(ctx, EnqueueRequest{Destination: "112", Body: "help"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pub := &recordingPublisher{}
	dr := NewDrainer(o, &recordingTransmitter{errs: []error{errors.New("radio busy")}}, WithPublisher(pub))

	if _, err := dr.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}

	m, _ := o.Get(ctx, id)
	if m.Status != StatusFailed || m.LastError == nil || *m.LastError != "radio busy" {
		t.Fatalf("unexpected message: %#v", m)
	}
	if len(pub.events) != 1 || pub.events[0] != EventFailed {
		t.Fatalf("events = %v", pub.events)
	}
}

func TestDrainerStartDrainsAndStops(t *testing.T) {
	t.Parallel()

	o := New(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, body := range []string{"one", "two"} {
		if _, err := o.Enqueue(ctx, EnqueueRequest{Destination: "112", Body: body}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	tx := &recordingTransmitter{}
	dr := NewDrainer(o, tx, WithInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- dr.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(tx.bodies()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := tx.bodies(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("transmitted = %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drainer did not stop")
	}
}
