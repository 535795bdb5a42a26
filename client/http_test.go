package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"

	syncany "github.com/meidoworks/nekoq-syncany"
	"github.com/meidoworks/nekoq-syncany/internal/checkpoint"
)

func TestControlClient(t *testing.T) {
	src := syncany.NewMemStore()
	for _, id := range []syncany.DocumentId{"a", "b", "c"} {
		if _, err := src.Put(id, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	release := make(chan struct{})
	m := syncany.NewManager(&syncany.ManagerConfig{
		Source:          src,
		CheckpointStore: checkpoint.NewMemStore(),
		SinkFactory: func(string) (syncany.SinkFunc, error) {
			return func(ctx context.Context, docs []*syncany.Document) error {
				<-release
				return nil
			}, nil
		},
	})
	ep := syncany.NewHttpEndpoint("127.0.0.1:0", m, true, "pw")
	srv := httptest.NewServer(ep.Handler())
	defer srv.Close()

	ctx := context.Background()
	c := NewHttpControlClient(srv.URL+"/", "pw")

	if err := c.Cancel(ctx, "c1"); err != ErrNotFound {
		t.Fatal("not found expected:", err)
	}
	view, err := c.Start(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if view.ReplicationId != "c1" || view.SessionId == "" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if _, err := c.Start(ctx, "c1"); !errors.Is(err, syncany.ErrReplicationRunning) {
		t.Fatal("running error expected:", err)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err = c.Get(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if view.Result != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replication did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if view.Result.Status != syncany.StatusComplete || !view.Sync.InSync || view.Sync.Checkpoint != 3 {
		t.Fatalf("unexpected final view: %+v %+v", view.Result, view.Sync)
	}

	if _, err := NewHttpControlClient(srv.URL, "wrong").Get(ctx, "c1"); err == nil {
		t.Fatal("wrong password should fail")
	}
	if _, err := c.Start(ctx, " "); err == nil {
		t.Fatal("empty id should be rejected")
	}
}
