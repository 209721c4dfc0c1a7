package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakePinger is a Pinger test double.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string               { return f.name }
func (f *fakePinger) Ping(context.Context) error { return f.err }

func getReady(t *testing.T, pingers ...Pinger) (int, readyResponse) {
	t.Helper()
	s := newTestServer(&fakeAsker{})
	s.pingers = pingers

	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeAsker{})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantOK    []bool
	}{
		{"no pingers", nil, http.StatusOK, true, nil},
		{
			"all healthy",
			[]Pinger{&fakePinger{name: "llm"}, &fakePinger{name: "vector_store"}},
			http.StatusOK, true, []bool{true, true},
		},
		{
			"vector store down",
			[]Pinger{&fakePinger{name: "llm"}, &fakePinger{name: "vector_store", err: down}},
			http.StatusServiceUnavailable, false, []bool{true, false},
		},
		{
			"everything down",
			[]Pinger{&fakePinger{name: "llm", err: down}, &fakePinger{name: "history", err: down}},
			http.StatusServiceUnavailable, false, []bool{false, false},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, resp := getReady(t, tc.pingers...)
			if code != tc.wantCode || resp.Ready != tc.wantReady {
				t.Fatalf("got (%d, ready=%v), want (%d, ready=%v)", code, resp.Ready, tc.wantCode, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("checks = %d, want %d", len(resp.Checks), len(tc.wantOK))
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d name = %q, want pinger order preserved", i, c.Name)
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q ok = %v", c.Name, c.OK)
				}
				if !c.OK && c.Error == "" {
					t.Errorf("check %q failed without an error message", c.Name)
				}
			}
		})
	}
}

// TestProbeAll_Concurrent uses a barrier that only opens once both probes
// are in flight, so sequential probing would time out.
func TestProbeAll_Concurrent(t *testing.T) {
	t.Parallel()

	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := func(ctx context.Context) error {
		arrived.Done()
		all := make(chan struct{})
		go func() {
			arrived.Wait()
			close(all)
		}()
		select {
		case <-all:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	checks := probeAll(ctx, []Pinger{
		pingerFunc{name: "a", fn: barrier},
		pingerFunc{name: "b", fn: barrier},
	})

	for _, c := range checks {
		if !c.OK {
			t.Errorf("probe %q failed (%s); probes did not run concurrently", c.Name, c.Error)
		}
	}
}

type pingerFunc struct {
	name string
	fn   func(context.Context) error
}

func (p pingerFunc) Name() string                   { return p.name }
func (p pingerFunc) Ping(ctx context.Context) error { return p.fn(ctx) }
