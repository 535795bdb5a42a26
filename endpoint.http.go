package syncany

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/httpserver"
	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

type ReplicationView struct {
	ReplicationId string     `json:"replication_id"`
	SessionId     string     `json:"session_id,omitempty"`
	State         string     `json:"state,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	Sync          *SyncState `json:"sync,omitempty"`
}

// HttpEndpoint exposes a Manager over HTTP:
//
//	POST   /replications/:id  start a replication
//	DELETE /replications/:id  cancel it
//	GET    /replications/:id  latest run and sync status
type HttpEndpoint struct {
	Manager *Manager

	EnableAuth     bool
	AccessPassword string

	server *httpserver.HttpServer
}

func NewHttpEndpoint(addr string, manager *Manager, enableAuth bool, accessPassword string) *HttpEndpoint {
	e := &HttpEndpoint{
		Manager:        manager,
		EnableAuth:     enableAuth,
		AccessPassword: accessPassword,
		server:         httpserver.NewHttpServer(addr),
	}
	e.server.Add(httpserver.MethodPost, "/replications/:id", e.authorized(e.startReplication))
	e.server.Add(httpserver.MethodDelete, "/replications/:id", e.authorized(e.cancelReplication))
	e.server.Add(httpserver.MethodGet, "/replications/:id", e.authorized(e.queryReplication))
	return e
}

func (e *HttpEndpoint) Handler() http.Handler {
	return e.server.Handler()
}

func (e *HttpEndpoint) Startup() error {
	return e.server.Startup()
}

func (e *HttpEndpoint) Addr() string {
	return e.server.Addr()
}

func (e *HttpEndpoint) Server() *httpserver.HttpServer {
	return e.server
}

func (e *HttpEndpoint) authorized(h iface.HttpHandler) iface.HttpHandler {
	return func(r *http.Request, params httprouter.Params) (iface.HttpResult, error) {
		if e.EnableAuth && r.Header.Get(HeaderAccessPassword) != e.AccessPassword {
			return iface.JsonErrorResult(http.StatusUnauthorized, "access password doesn't match"), nil
		}
		return h(r, params)
	}
}

func (e *HttpEndpoint) startReplication(r *http.Request, params httprouter.Params) (iface.HttpResult, error) {
	id := params.ByName("id")
	// the run outlives the request
	rep, err := e.Manager.Start(context.WithoutCancel(r.Context()), id)
	switch {
	case err == nil:
	case errors.Is(err, ErrReplicationRunning):
		return iface.JsonErrorResult(http.StatusConflict, err.Error()), nil
	default:
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			return iface.JsonErrorResult(http.StatusBadRequest, err.Error()), nil
		}
		return nil, err
	}
	return iface.JsonResult(http.StatusAccepted, &ReplicationView{
		ReplicationId: id,
		SessionId:     rep.SessionId(),
		State:         rep.State().String(),
	}), nil
}

func (e *HttpEndpoint) cancelReplication(r *http.Request, params httprouter.Params) (iface.HttpResult, error) {
	if err := e.Manager.Cancel(params.ByName("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return iface.JsonErrorResult(http.StatusNotFound, err.Error()), nil
		}
		return nil, err
	}
	return iface.StatusOnlyResult(http.StatusAccepted), nil
}

func (e *HttpEndpoint) queryReplication(r *http.Request, params httprouter.Params) (iface.HttpResult, error) {
	id := params.ByName("id")
	view := &ReplicationView{ReplicationId: id}

	st, err := e.Manager.Status(r.Context(), id)
	if err != nil {
		return nil, err
	}
	view.Sync = &st

	rep, ok := e.Manager.Get(id)
	if !ok {
		return iface.JsonResult(http.StatusOK, view), nil
	}
	view.SessionId = rep.SessionId()
	view.State = rep.State().String()
	select {
	case <-rep.Done():
		res, err := rep.Wait(r.Context())
		view.Result = &res
		if err != nil {
			view.Error = err.Error()
		}
	default:
	}
	return iface.JsonResult(http.StatusOK, view), nil
}
