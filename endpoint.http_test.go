package syncany

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/checkpoint"
)

type capturedRequests struct {
	sync.Mutex
	requests []*HttpSinkRequest
	headers  []http.Header
}

func newSinkServer(t *testing.T, status int) (*httptest.Server, *capturedRequests) {
	t.Helper()
	captured := new(capturedRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dat, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req := new(HttpSinkRequest)
		if err := json.Unmarshal(dat, req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		captured.Lock()
		captured.requests = append(captured.requests, req)
		captured.headers = append(captured.headers, r.Header.Clone())
		captured.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestHttpSinkPostsBatches(t *testing.T) {
	srv, captured := newSinkServer(t, http.StatusOK)
	sink, err := NewHttpSink(&HttpSinkConfig{
		Url:            srv.URL,
		ReplicationId:  "to-http",
		AccessPassword: "secret",
		Timeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	src := fillStore(4)
	if _, err := src.Put("raw", []byte{0xff, 0x00}); err != nil {
		t.Fatal(err)
	}
	r, err := StartSync(context.Background(), src, checkpoint.NewMemStore(), sink, Options{ReplicationId: "to-http", BatchSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	res, err := waitRun(t, r)
	if err != nil {
		t.Fatal(err)
	}
	if res.Batches != 2 || res.LastSequence != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}

	captured.Lock()
	defer captured.Unlock()
	if len(captured.requests) != 2 {
		t.Fatal("expect 2 requests, got:", len(captured.requests))
	}
	if captured.headers[0].Get(HeaderReplicationId) != "to-http" || captured.headers[0].Get(HeaderAccessPassword) != "secret" {
		t.Fatal("headers missing:", captured.headers[0])
	}
	first := captured.requests[0].Docs[0]
	if first.ID != "doc-01" || string(first.Body) != `{"n":1}` || first.Raw != nil {
		t.Fatalf("json body expected: %+v", first)
	}
	last := captured.requests[1].Docs[1]
	if last.ID != "raw" || last.Body != nil || len(last.Raw) != 2 {
		t.Fatalf("raw body expected: %+v", last)
	}
}

func TestHttpSinkFailureAborts(t *testing.T) {
	srv, _ := newSinkServer(t, http.StatusServiceUnavailable)
	sink, err := NewHttpSink(&HttpSinkConfig{Url: srv.URL, ReplicationId: "down"})
	if err != nil {
		t.Fatal(err)
	}
	r, err := StartSync(context.Background(), fillStore(2), checkpoint.NewMemStore(), sink, Options{ReplicationId: "down"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := waitRun(t, r); !IsSinkFailure(err) {
		t.Fatal("sink failure expected, got:", err)
	}

	if _, err := NewHttpSink(&HttpSinkConfig{}); err == nil {
		t.Fatal("missing url should be rejected")
	}
}

func newTestManager(src Source, sink SinkFunc) *Manager {
	return NewManager(&ManagerConfig{
		Source:          src,
		CheckpointStore: checkpoint.NewMemStore(),
		SinkFactory: func(string) (SinkFunc, error) {
			return sink, nil
		},
		BatchSize: 2,
	})
}

func TestManagerSingleRunPerId(t *testing.T) {
	release := make(chan struct{})
	sink := func(ctx context.Context, docs []*Document) error {
		<-release
		return nil
	}
	m := newTestManager(fillStore(4), sink)

	r, err := m.Start(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background(), "m1"); !errors.Is(err, ErrReplicationRunning) {
		t.Fatal("second start should be rejected:", err)
	}
	close(release)
	if _, err := waitRun(t, r); err != nil {
		t.Fatal(err)
	}
	st, err := m.Status(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.InSync || st.Checkpoint != 4 || st.UpdateSequence != 4 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if got, ok := m.Get("m1"); !ok || got != r {
		t.Fatal("latest run not tracked")
	}
	r2, err := m.Start(context.Background(), "m1")
	if err != nil {
		t.Fatal("restart after completion failed:", err)
	}
	if res, err := waitRun(t, r2); err != nil || res.Batches != 0 {
		t.Fatalf("nothing left to sync: %+v %v", res, err)
	}
	if err := m.Cancel("unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatal("unknown id should not be found:", err)
	}
}

func TestHttpEndpointControl(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	sink := func(ctx context.Context, docs []*Document) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	m := newTestManager(fillStore(6), sink)
	e := NewHttpEndpoint("127.0.0.1:0", m, true, "pw")
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	do := func(method, password string) (*http.Response, *ReplicationView) {
		req, err := http.NewRequest(method, srv.URL+"/replications/e1", nil)
		if err != nil {
			t.Fatal(err)
		}
		if password != "" {
			req.Header.Set(HeaderAccessPassword, password)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		view := new(ReplicationView)
		dat, _ := io.ReadAll(resp.Body)
		if len(dat) > 0 {
			_ = json.Unmarshal(dat, view)
		}
		return resp, view
	}

	if resp, _ := do(http.MethodPost, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("unauthorized expected:", resp.StatusCode)
	}
	if resp, _ := do(http.MethodDelete, "pw"); resp.StatusCode != http.StatusNotFound {
		t.Fatal("cancel of unknown run should be 404:", resp.StatusCode)
	}
	resp, view := do(http.MethodPost, "pw")
	if resp.StatusCode != http.StatusAccepted || view.SessionId == "" {
		t.Fatal("start failed:", resp.StatusCode, view)
	}
	<-entered
	if resp, _ := do(http.MethodPost, "pw"); resp.StatusCode != http.StatusConflict {
		t.Fatal("conflict expected:", resp.StatusCode)
	}
	if resp, _ := do(http.MethodDelete, "pw"); resp.StatusCode != http.StatusAccepted {
		t.Fatal("cancel failed:", resp.StatusCode)
	}
	close(release)

	r, _ := m.Get("e1")
	if res, err := waitRun(t, r); err != nil || res.Status != StatusCancelled {
		t.Fatalf("cancelled run expected: %+v %v", res, err)
	}

	resp, view = do(http.MethodGet, "pw")
	if resp.StatusCode != http.StatusOK {
		t.Fatal("query failed:", resp.StatusCode)
	}
	if view.Result == nil || view.Result.Status != StatusCancelled || view.State != "cancelled" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Sync == nil || view.Sync.InSync || view.Sync.Checkpoint != 2 || view.Sync.UpdateSequence != 6 {
		t.Fatalf("unexpected sync status: %+v", view.Sync)
	}
}
