package syncany

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	HeaderReplicationId  = "X-Replication-Id"
	HeaderAccessPassword = "X-Access-Password"
)

type HttpSinkConfig struct {
	Url            string
	ReplicationId  string
	AccessPassword string
	Timeout        time.Duration
}

type HttpSinkDocument struct {
	ID       DocumentId     `json:"_id"`
	Revision int64          `json:"_rev"`
	Sequence SequenceNumber `json:"_seq"`
	// Body is set when the stored body is valid JSON, Raw otherwise.
	Body json.RawMessage `json:"body,omitempty"`
	Raw  []byte          `json:"raw,omitempty"`
}

type HttpSinkRequest struct {
	ReplicationId string              `json:"replication_id"`
	Docs          []*HttpSinkDocument `json:"docs"`
}

// NewHttpSink returns a sink posting every batch as one JSON request to
// config.Url. Any non-2xx answer fails the batch.
func NewHttpSink(config *HttpSinkConfig) (SinkFunc, error) {
	if config.Url == "" {
		return nil, &ConfigurationError{Field: "sink.url", Err: errors.New("url is required")}
	}
	client := resty.New()
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	headers := map[string]string{
		HeaderReplicationId: config.ReplicationId,
		"Accept":            "application/json",
		"Content-Type":      "application/json",
	}
	if config.AccessPassword != "" {
		headers[HeaderAccessPassword] = config.AccessPassword
	}

	return func(ctx context.Context, docs []*Document) error {
		req := &HttpSinkRequest{
			ReplicationId: config.ReplicationId,
			Docs:          make([]*HttpSinkDocument, 0, len(docs)),
		}
		for _, d := range docs {
			sd := &HttpSinkDocument{
				ID:       d.ID,
				Revision: d.Revision,
				Sequence: d.Sequence,
			}
			if json.Valid(d.Body) {
				sd.Body = d.Body
			} else {
				sd.Raw = d.Body
			}
			req.Docs = append(req.Docs, sd)
		}

		resp, err := client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(req).
			Post(config.Url)
		if err != nil {
			return errors.Wrap(err, "post batch")
		}
		if !resp.IsSuccess() {
			return errors.Errorf("post batch failed, status: %d", resp.StatusCode())
		}
		return nil
	}, nil
}
