package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeService struct {
	name     string
	startErr error
	block    bool
	panics   bool
	onStop   func()

	mu      sync.Mutex
	stopped bool
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.panics {
		panic("nil map write")
	}
	if s.block {
		<-ctx.Done()
		return nil
	}
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.onStop != nil {
		s.onStop()
	}
	return nil
}

func (s *fakeService) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func TestRunnerStopsAllServicesOnFailure(t *testing.T) {
	boom := errors.New("listen failed")
	api := &fakeService{name: "api", startErr: boom}
	worker := &fakeService{name: "worker", block: true}

	err := NewRunner(api, worker).Run(context.Background(), time.Second, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if !api.wasStopped() || !worker.wasStopped() {
		t.Fatalf("all services should be stopped")
	}
}

func TestRunnerCancelIsCleanExit(t *testing.T) {
	worker := &fakeService{name: "worker", block: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewRunner(worker).Run(ctx, time.Second, nil); err != nil {
		t.Fatalf("cancel should exit cleanly, got %v", err)
	}
	if !worker.wasStopped() {
		t.Fatalf("worker should be stopped")
	}
}

func TestRunnerWithoutServices(t *testing.T) {
	if err := NewRunner().Run(context.Background(), time.Second, nil); err == nil {
		t.Fatalf("expected error for empty runner")
	}
	if err := RunWithOptions(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil runner")
	}
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestRunnerClosesResourcesAfterServicesStop(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}
	api := &fakeService{name: "http", block: true, onStop: func() { record("stop:http") }}
	worker := &fakeService{name: "worker", block: true, onStop: func() { record("stop:worker") }}
	runner := NewRunner(api, worker).Own(
		closeFunc(func() error { record("close:db"); return nil }),
		closeFunc(func() error { record("close:queue"); return errors.New("already closed") }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Run(ctx, time.Second, nil); err != nil {
		t.Fatalf("cancel should exit cleanly, got %v", err)
	}
	want := "stop:http,stop:worker,close:queue,close:db"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("shutdown order=%s want %s", got, want)
	}
}

func TestRunnerTurnsServicePanicIntoError(t *testing.T) {
	broken := &fakeService{name: "worker", panics: true}
	api := &fakeService{name: "http", block: true}

	err := NewRunner(api, broken).Run(context.Background(), time.Second, nil)
	if err == nil || !strings.Contains(err.Error(), "service worker panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if !api.wasStopped() {
		t.Fatalf("api should be stopped after worker panic")
	}
}

func TestRunnerNamesFailingService(t *testing.T) {
	boom := errors.New("bind: address already in use")
	err := NewRunner(&fakeService{name: "http", startErr: boom}).Run(context.Background(), time.Second, nil)
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "service http:") {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]string{"": ModeAll, " API ": ModeAPI, "worker": ModeWorker, "all": ModeAll}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseMode("cron"); err == nil {
		t.Fatalf("unknown mode should be rejected")
	}
	if _, err := BuildRunner(nil, ModeAPI); err == nil {
		t.Fatalf("nil config should be rejected")
	}
}

func TestHTTPServiceReportsBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer taken.Close()

	svc := NewHTTPService(taken.Addr().String(), http.NotFoundHandler())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected bind error on occupied port")
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}
