package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/endpoint"
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Routes served by Server.
const (
	ChannelPath = "/v1/channel"
	StatePath   = "/v1/state"
)

const shutdownTimeout = 5 * time.Second

// Handler dispatches control channel requests by wire name.
type Handler interface {
	Handle(ctx context.Context, name string) (endpoint.Reply, error)
}

// StateSource exposes the current tunnel state.
type StateSource interface {
	Snapshot() domain.TunnelState
}

// channelResponse is the body of a successful channel call. Result is
// null for acknowledgements.
type channelResponse struct {
	Result *bool `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the control channel over HTTP.
type Server struct {
	app     *fiber.App
	addr    string
	handler Handler
	state   StateSource
	logger  log.Logger
}

// NewServer creates a server listening on addr once Run is called.
func NewServer(addr string, handler Handler, state StateSource, logger log.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "tproxyctl",
			DisableStartupMessage: true,
		}),
		addr:    addr,
		handler: handler,
		state:   state,
		logger:  logger,
	}

	s.app.Post(ChannelPath+"/:method", s.handleChannel)
	s.app.Get(StatePath, s.handleState)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.addr)
	}()

	s.logger.Info("control channel listening", log.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleChannel(c *fiber.Ctx) error {
	method := c.Params("method")

	reply, err := s.handler.Handle(c.UserContext(), method)
	if err != nil {
		status, msg := errorStatus(err)
		s.logger.Warn("channel request failed",
			log.String("method", method),
			log.Int("status", status),
			log.Err(err),
		)
		return c.Status(status).JSON(errorResponse{Error: msg})
	}

	s.logger.Debug("channel request", log.String("method", method))
	return c.JSON(channelResponse{Result: reply.Result})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(ports.NewRecord(s.state.Snapshot()))
}

// errorStatus maps a controller error to a status code and message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedRequest):
		return fiber.StatusNotImplemented, "not implemented"
	case errors.Is(err, domain.ErrResetRequired):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrDriver), errors.Is(err, domain.ErrDriverTimeout):
		return fiber.StatusBadGateway, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, err.Error()
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}
