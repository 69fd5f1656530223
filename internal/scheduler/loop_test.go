package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// fakeSender records frames per worker and fails sends to workers listed
// in fail.
type fakeSender struct {
	mu           sync.Mutex
	sent         map[string][]string
	fail         map[string]bool
	disconnected []string
	// onSend, when set, runs before the send is recorded.
	onSend func(workerID, frame string)
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]string), fail: make(map[string]bool)}
}

func (f *fakeSender) Send(workerID, frame string) bool {
	if f.onSend != nil {
		f.onSend(workerID, frame)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[workerID] {
		return false
	}
	f.sent[workerID] = append(f.sent[workerID], frame)
	return true
}

func (f *fakeSender) Disconnect(workerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, workerID)
}

func testSetup(t *testing.T) (*Loop, *registry.Registry, *queue.Queue, *fakeSender) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	q := queue.New()
	conns := newFakeSender()
	return NewLoop(reg, q, conns, DefaultConfig(), logger, nil), reg, q, conns
}

func idleWorker(reg *registry.Registry, name string) string {
	id := reg.Add(name, 0)
	reg.SetStatus(id, model.WorkerStatusIdle)
	return id
}

func TestTick_EmptyQueue(t *testing.T) {
	loop, reg, _, conns := testSetup(t)
	id := idleWorker(reg, "W1")

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(conns.sent) != 0 {
		t.Errorf("sent = %v, want nothing", conns.sent)
	}
	if w, _ := reg.Get(id); w.Status != model.WorkerStatusIdle {
		t.Errorf("status = %s, want idle", w.Status)
	}
}

func TestTick_NoIdleWorkers(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	reg.Add("connecting", 0)
	q.Enqueue("whoami", "")

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(conns.sent) != 0 {
		t.Errorf("sent = %v, want nothing", conns.sent)
	}
	if q.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", q.PendingCount())
	}
}

func TestTick_TwoIdleWorkersTwoTasks(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	w1 := idleWorker(reg, "W1")
	w2 := idleWorker(reg, "W2")
	t1 := q.Enqueue("hostname", "")
	t2 := q.Enqueue("whoami", "")

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	want := map[string]string{
		w1: protocol.EncodeExecute("hostname", t1),
		w2: protocol.EncodeExecute("whoami", t2),
	}
	for id, frame := range want {
		if got := conns.sent[id]; len(got) != 1 || got[0] != frame {
			t.Errorf("worker %s got %v, want [%s]", id, got, frame)
		}
		if w, _ := reg.Get(id); w.Status != model.WorkerStatusBusy {
			t.Errorf("worker %s status = %s, want busy", id, w.Status)
		}
	}
	if q.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", q.PendingCount())
	}
	for _, id := range []string{t1, t2} {
		if task, _ := q.Get(id); task.Status != model.TaskStatusInProgress {
			t.Errorf("task %s status = %s, want IN_PROGRESS", id, task.Status)
		}
	}
}

func TestTick_MoreWorkersThanTasks(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	w1 := idleWorker(reg, "W1")
	w2 := idleWorker(reg, "W2")
	q.Enqueue("whoami", "")

	loop.Tick(context.Background())

	if len(conns.sent[w1]) != 1 {
		t.Errorf("W1 got %v, want one frame", conns.sent[w1])
	}
	if w, _ := reg.Get(w2); w.Status != model.WorkerStatusIdle {
		t.Errorf("W2 status = %s, want idle", w.Status)
	}
}

func TestTick_OneTaskPerWorkerPerTick(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	w1 := idleWorker(reg, "W1")
	q.Enqueue("a", "")
	q.Enqueue("b", "")

	loop.Tick(context.Background())
	loop.Tick(context.Background())

	if len(conns.sent[w1]) != 1 {
		t.Errorf("busy worker got %d frames, want 1", len(conns.sent[w1]))
	}
	if q.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", q.PendingCount())
	}
}

func TestTick_SendFailureOrphansTask(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	w1 := idleWorker(reg, "W1")
	conns.fail[w1] = true
	taskID := q.Enqueue("whoami", "")

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	w, _ := reg.Get(w1)
	if w.Status != model.WorkerStatusDisconnected {
		t.Errorf("status = %s, want disconnected", w.Status)
	}
	if len(conns.disconnected) != 1 || conns.disconnected[0] != w1 {
		t.Errorf("disconnected = %v, want [%s]", conns.disconnected, w1)
	}
	task, _ := q.Get(taskID)
	if task.Status != model.TaskStatusInProgress || task.WorkerID != w1 {
		t.Errorf("task = %s on %s, want IN_PROGRESS on %s", task.Status, task.WorkerID, w1)
	}
}

func TestTick_BusyRecordedBeforeSend(t *testing.T) {
	loop, reg, q, conns := testSetup(t)
	w1 := idleWorker(reg, "W1")
	q.Enqueue("whoami", "")

	var statusAtSend model.WorkerStatus
	conns.onSend = func(workerID, _ string) {
		w, _ := reg.Get(workerID)
		statusAtSend = w.Status
		// A result racing in right after the write frees the worker.
		reg.SetStatus(workerID, model.WorkerStatusIdle)
	}

	loop.Tick(context.Background())

	if statusAtSend != model.WorkerStatusBusy {
		t.Errorf("status at send = %s, want busy", statusAtSend)
	}
	if w, _ := reg.Get(w1); w.Status != model.WorkerStatusIdle {
		t.Errorf("status after tick = %s, want idle (result must not be overwritten)", w.Status)
	}
}

func TestLoop_TriggerRunsTick(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	q := queue.New()
	conns := newFakeSender()
	loop := NewLoop(reg, q, conns, Config{Interval: time.Hour}, logger, nil)

	w1 := idleWorker(reg, "W1")
	q.Enqueue("whoami", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Start(ctx)

	loop.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conns.mu.Lock()
		n := len(conns.sent[w1])
		conns.mu.Unlock()
		if n == 1 {
			loop.Stop()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("trigger did not cause a dispatch")
}

func TestLoop_StopWithoutStart(t *testing.T) {
	loop, _, _, _ := testSetup(t)
	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}
