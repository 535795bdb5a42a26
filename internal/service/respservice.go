package service

import (
	"net"
	"strings"

	"github.com/tidwall/redcon"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/logging"
)

var _respLogger = logging.Module("resp")

type Resp2Service struct {
	server         *redcon.Server
	commandMapping map[string]iface.RespCommandHandler

	config *RespServiceConfig
}

type RespServiceConfig struct {
	Addr string
}

var _ iface.RespRegister = new(Resp2Service)

func NewResp2Service(config *RespServiceConfig) *Resp2Service {
	r := new(Resp2Service)

	server := redcon.NewServerNetwork("tcp", config.Addr, r.processCommand, r.acceptConn, r.closedConn)
	r.server = server
	r.config = config
	r.commandMapping = make(map[string]iface.RespCommandHandler)
	r.AddCommandHandler("PING", func(args []iface.RespArg) (iface.RespResult, error) {
		return iface.RespStringResult("PONG"), nil
	})

	return r
}

func (r *Resp2Service) ServeAndWait() error {
	return r.server.ListenAndServe()
}

// Startup listens and serves in the background. It returns once the
// listener is bound.
func (r *Resp2Service) Startup() error {
	signal := make(chan error, 1)
	go func() {
		if err := r.server.ListenServeAndSignal(signal); err != nil {
			_respLogger.WithError(err).Info("resp service stopped")
		}
	}()
	return <-signal
}

func (r *Resp2Service) Addr() net.Addr {
	return r.server.Addr()
}

func (r *Resp2Service) Close() error {
	return r.server.Close()
}

func (r *Resp2Service) processCommand(conn redcon.Conn, cmd redcon.Command) {
	c := strings.ToLower(string(cmd.Args[0]))
	h, ok := r.commandMapping[c]
	if !ok {
		conn.WriteError("ERR unknown command '" + c + "'")
		return
	}
	args := make([]iface.RespArg, 0, len(cmd.Args))
	for _, v := range cmd.Args {
		args = append(args, v)
	}
	result, err := h(args)
	if err != nil {
		_respLogger.WithError(err).WithField("command", c).Error("process command failed")
		conn.WriteError("ERR failure")
		return
	}
	if err := result(conn); err != nil {
		_respLogger.WithError(err).WithField("command", c).Error("render result failed")
		return
	}
}

func (r *Resp2Service) AddCommandHandler(command string, h iface.RespCommandHandler) {
	r.commandMapping[strings.ToLower(command)] = h
}

func (r *Resp2Service) acceptConn(conn redcon.Conn) bool {
	_respLogger.WithField("remote", conn.RemoteAddr()).Debug("accept peer connection")
	return true
}

func (r *Resp2Service) closedConn(conn redcon.Conn, err error) {
	_respLogger.WithField("remote", conn.RemoteAddr()).WithError(err).Debug("close peer connection")
}
