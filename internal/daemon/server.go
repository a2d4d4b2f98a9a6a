package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/lock"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/matheus3301/albumchat/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ChatService is the health service name that reports SERVING while the chat
// socket is open.
const ChatService = "albumchat.chat"

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	stopWatch  chan struct{}
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
// The profile lock must be held, since a leftover socket is removed.
func NewServer(p Params, _ *lock.Lock, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		stopWatch:  make(chan struct{}),
	}
	s.watch(machine, b)
	return s, nil
}

// watch keeps the chat service status in step with the connection state.
func (s *Server) watch(machine *status.Machine, b *bus.Bus) {
	events, unsub := b.Subscribe(bus.KindStatusChanged, 16)
	s.health.SetServingStatus(ChatService, servingStatus(machine.Current()))
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				s.health.SetServingStatus(ChatService, servingStatus(change.To))
			case <-s.stopWatch:
				return
			}
		}
	}()
}

func servingStatus(s status.State) healthpb.HealthCheckResponse_ServingStatus {
	if s == status.Open {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	close(s.stopWatch)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
