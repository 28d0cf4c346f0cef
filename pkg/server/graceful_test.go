package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestGracefulServer_ServeAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	gs := NewGracefulServer("test", "127.0.0.1:0", handler, nil)
	if err := gs.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- gs.Start() }()

	resp, err := http.Get("http://" + gs.Addr() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	var hookCalled atomic.Bool
	gs.RegisterOnShutdown(func() { hookCalled.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := gs.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start() returned %v after shutdown", err)
	}
	if !gs.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown")
	}

	// RegisterOnShutdown hooks run in their own goroutine
	deadline := time.Now().Add(time.Second)
	for !hookCalled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !hookCalled.Load() {
		t.Error("shutdown hook was not called")
	}

	// second shutdown is a no-op
	if err := gs.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestWaitForSignal_ReloadThenStop(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	reload := func() error {
		reloaded <- struct{}{}
		return errors.New("keep waiting anyway")
	}

	result := make(chan string, 1)
	go func() {
		sig := WaitForSignal(context.Background(), reload, nil)
		result <- sig.String()
	}()
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send SIGHUP: %v", err)
	}
	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("SIGHUP did not trigger reload")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}
	select {
	case got := <-result:
		if got != syscall.SIGTERM.String() {
			t.Errorf("signal = %s, want %s", got, syscall.SIGTERM)
		}
	case <-time.After(time.Second):
		t.Fatal("SIGTERM did not stop the wait")
	}
}

func TestWaitForSignal_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sig := WaitForSignal(ctx, nil, nil); sig != nil {
		t.Errorf("signal = %v, want nil", sig)
	}
}

func TestInstrument_RecordsStatus(t *testing.T) {
	h := Instrument("/route", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestRecover_ReturnsInternalError(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/route", nil))
	if rec.Code != http.StatusNoContent || called {
		t.Errorf("preflight: code = %d, called = %v", rec.Code, called)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/route", nil))
	if !called {
		t.Error("POST should reach the handler")
	}
}

func TestShutdown_ClosesUnservedListener(t *testing.T) {
	gs := NewGracefulServer("idle", "127.0.0.1:0", http.NotFoundHandler(), nil)
	if err := gs.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := gs.Addr()
	if err := gs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	again := NewGracefulServer("again", addr, http.NotFoundHandler(), nil)
	if err := again.Listen(); err != nil {
		t.Errorf("address should be free after shutdown: %v", err)
	}
	_ = again.Shutdown(context.Background())
}
