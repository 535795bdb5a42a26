package httpserver

import (
	"context"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/logging"
)

type HttpMethod string

var (
	MethodGet    HttpMethod = http.MethodGet
	MethodPost   HttpMethod = http.MethodPost
	MethodPut    HttpMethod = http.MethodPut
	MethodDelete HttpMethod = http.MethodDelete
)

var _httpLogger = logging.Module("httpserver")

type HttpServer struct {
	router *httprouter.Router

	listenAddr string

	server *http.Server
	ln     net.Listener

	GeneralErrorHandler func(err error)
}

func NewHttpServer(addr string) *HttpServer {
	h := httprouter.New()

	return &HttpServer{
		router:     h,
		listenAddr: addr,
		GeneralErrorHandler: func(err error) {
			_httpLogger.WithError(err).Error("http handler failed")
		},
	}
}

func (h *HttpServer) Add(method HttpMethod, path string, handler iface.HttpHandler) {
	h.router.Handle(newHandle(method, path, handler, h.GeneralErrorHandler))
}

func (h *HttpServer) Handler() http.Handler {
	return h.router
}

func (h *HttpServer) Startup() error {
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    h.listenAddr,
		Handler: h.router,
	}
	h.server = server
	h.ln = ln
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			_httpLogger.WithError(err).Error("http server stopped")
		}
	}()
	return nil
}

// Addr is the bound address after Startup.
func (h *HttpServer) Addr() string {
	if h.ln == nil {
		return h.listenAddr
	}
	return h.ln.Addr().String()
}

func (h *HttpServer) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func newHandle(m HttpMethod, p string, h iface.HttpHandler, ef func(err error)) (method, path string, handle httprouter.Handle) {
	return string(m), p, func(writer http.ResponseWriter, request *http.Request, params httprouter.Params) {
		r, err := h(request, params)
		if err != nil {
			if ef != nil {
				ef(err)
			}
			writer.WriteHeader(http.StatusInternalServerError)
			return
		} else {
			if err := r.Render(writer); err != nil {
				if ef != nil {
					ef(err)
				}
			}
		}
	}
}
