package service

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/httpserver"
	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/logging"
)

var _httpLogger = logging.Module("docservice")

type HttpServiceContainer struct {
	h *httpserver.HttpServer

	docs iface.DocumentStore
}

func NewHttpServiceContainer(h *httpserver.HttpServer) *HttpServiceContainer {
	return &HttpServiceContainer{
		h: h,
	}
}

// SetupDocumentStore exposes a document store for writes:
//
//	GET    /documents/:id
//	PUT    /documents/:id  body is the new revision
//	DELETE /documents/:id
func (h *HttpServiceContainer) SetupDocumentStore(stor iface.DocumentStore) *HttpServiceContainer {
	h.docs = stor
	h.h.Add(httpserver.MethodGet, "/documents/:id", func(request *http.Request, params httprouter.Params) (iface.HttpResult, error) {
		id := strings.TrimSpace(params.ByName("id"))
		if id == "" {
			return iface.StatusOnlyResult(http.StatusBadRequest), nil
		}
		doc, err := h.docs.Get(iface.DocumentId(id))
		if errors.Is(err, iface.ErrStorageNotFound) {
			return iface.StatusOnlyResult(http.StatusNotFound), nil
		}
		if err != nil {
			_httpLogger.WithError(err).WithField("id", id).Error("get document failed")
			return nil, err
		}
		return iface.JsonResult(http.StatusOK, doc), nil
	})
	h.h.Add(httpserver.MethodPut, "/documents/:id", func(request *http.Request, params httprouter.Params) (iface.HttpResult, error) {
		id := strings.TrimSpace(params.ByName("id"))
		if id == "" {
			return iface.StatusOnlyResult(http.StatusBadRequest), nil
		}
		dat, err := io.ReadAll(request.Body)
		if err != nil {
			_httpLogger.WithError(err).Error("read http body failed")
			return nil, err
		}
		doc, err := h.docs.Put(iface.DocumentId(id), dat)
		if err != nil {
			_httpLogger.WithError(err).WithField("id", id).Error("put document failed")
			return iface.JsonErrorResult(http.StatusBadRequest, err.Error()), nil
		}
		return iface.JsonResult(http.StatusOK, doc), nil
	})
	h.h.Add(httpserver.MethodDelete, "/documents/:id", func(request *http.Request, params httprouter.Params) (iface.HttpResult, error) {
		id := strings.TrimSpace(params.ByName("id"))
		if id == "" {
			return iface.StatusOnlyResult(http.StatusBadRequest), nil
		}
		err := h.docs.Delete(iface.DocumentId(id))
		if errors.Is(err, iface.ErrStorageNotFound) {
			return iface.StatusOnlyResult(http.StatusNotFound), nil
		}
		if err != nil {
			_httpLogger.WithError(err).WithField("id", id).Error("delete document failed")
			return nil, err
		}
		return iface.StatusOnlyResult(http.StatusOK), nil
	})
	return h
}

func (h *HttpServiceContainer) Startup() error {
	return h.h.Startup()
}

func (h *HttpServiceContainer) Stop(ctx context.Context) error {
	return h.h.Stop(ctx)
}
