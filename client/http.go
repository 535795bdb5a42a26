package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	syncany "github.com/meidoworks/nekoq-syncany"
)

var ErrNotFound = errors.New("replication not found")

// HttpControlClient talks to the replication control endpoint.
type HttpControlClient struct {
	endpoints []string
	client    *resty.Client
}

func NewHttpControlClient(endpoint, accessPassword string) *HttpControlClient {
	c := resty.New()
	c.SetHeader("Accept", "application/json")
	if accessPassword != "" {
		c.SetHeader(syncany.HeaderAccessPassword, accessPassword)
	}
	return &HttpControlClient{
		endpoints: []string{strings.TrimRight(endpoint, "/")},
		client:    c,
	}
}

func (h *HttpControlClient) Start(ctx context.Context, replicationId string) (*syncany.ReplicationView, error) {
	if err := checkId(replicationId); err != nil {
		return nil, err
	}
	view := new(syncany.ReplicationView)
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(view).
		Post(h.replicationUrl(replicationId))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode() {
	case http.StatusAccepted:
		return view, nil
	case http.StatusConflict:
		return nil, syncany.ErrReplicationRunning
	default:
		return nil, errors.Errorf("start replication failed, status: %d", resp.StatusCode())
	}
}

func (h *HttpControlClient) Cancel(ctx context.Context, replicationId string) error {
	if err := checkId(replicationId); err != nil {
		return err
	}
	resp, err := h.client.R().
		SetContext(ctx).
		Delete(h.replicationUrl(replicationId))
	if err != nil {
		return err
	}
	switch resp.StatusCode() {
	case http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return errors.Errorf("cancel replication failed, status: %d", resp.StatusCode())
	}
}

func (h *HttpControlClient) Get(ctx context.Context, replicationId string) (*syncany.ReplicationView, error) {
	if err := checkId(replicationId); err != nil {
		return nil, err
	}
	view := new(syncany.ReplicationView)
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(view).
		Get(h.replicationUrl(replicationId))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("get replication failed, status: %d", resp.StatusCode())
	}
	return view, nil
}

func checkId(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("replication id is empty")
	}
	return nil
}

func (h *HttpControlClient) replicationUrl(id string) string {
	return h.pickEndpoint() + "/replications/" + id
}

func (h *HttpControlClient) pickEndpoint() string {
	return h.endpoints[0]
}
