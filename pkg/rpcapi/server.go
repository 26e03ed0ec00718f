package rpcapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/replica"
)

// Server implements Core over a *replica.Manager and a ProgramRegistry,
// and hosts them behind a grpc.Server on RegisterControlServer's
// ServiceDesc. It plays the role the teacher's pkg/api.Server plays for
// Warren's cluster RPCs: one struct gluing a domain manager to a
// transport.
type Server struct {
	manager  *replica.Manager
	programs *ProgramRegistry
	logger   zerolog.Logger

	grpcServer *grpc.Server
}

// NewServer builds a Server dispatching onto manager and resolving
// publish requests against programs.
func NewServer(manager *replica.Manager, programs *ProgramRegistry, logger zerolog.Logger) *Server {
	return &Server{manager: manager, programs: programs, logger: logger}
}

var _ Core = (*Server)(nil)

func (s *Server) Publish(ctx context.Context, req PublishRequest) (*CallResult, error) {
	program, err := s.programs.byHexString(req.ModuleHash)
	if err != nil {
		return nil, err
	}
	var expectedHash *algebra.Hash
	if req.ExpectedModuleHash != "" {
		h, err := algebra.HashFromHex(req.ExpectedModuleHash)
		if err != nil {
			return nil, err
		}
		expectedHash = &h
	}
	result, err := s.manager.PublishModule(ctx, algebra.ReplicaId(req.Replica), program, req.Args, expectedHash, time.Now().UnixNano())
	return toPublishResult(result), err
}

func (s *Server) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	sender, err := identityFromHex(req.Sender)
	if err != nil {
		return nil, err
	}
	conn, err := connectionFromHex(req.Connection)
	if err != nil {
		return nil, err
	}
	result, err := s.manager.CallReducer(ctx, algebra.ReplicaId(req.Replica), req.Reducer, req.Args, sender, conn, time.Now().UnixNano())
	return toCallResult(result), err
}

func (s *Server) Subscribe(ctx context.Context, req SubscribeRequest) (<-chan TableChange, func(), error) {
	conn, err := connectionFromHex(req.Connection)
	if err != nil {
		return nil, nil, err
	}
	replicaID := algebra.ReplicaId(req.Replica)
	sub, err := s.manager.Subscribe(replicaID, conn)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan TableChange)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case change, ok := <-sub:
				if !ok {
					return
				}
				select {
				case out <- toWireChange(change):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		s.manager.Unsubscribe(replicaID, conn)
	}
	return out, cancel, nil
}

func (s *Server) Logs(ctx context.Context, req LogsRequest) (*LogsResponse, error) {
	lines, err := s.manager.Logs(algebra.ReplicaId(req.Replica), req.Limit)
	if err != nil {
		return nil, err
	}
	resp := &LogsResponse{Lines: make([]LogLine, len(lines))}
	for i, line := range lines {
		resp.Lines[i] = LogLine{
			TimestampUnixNano: line.Timestamp.UnixNano(),
			Level:             line.Level,
			Reducer:           line.Reducer,
			Message:           line.Message,
		}
	}
	return resp, nil
}

// Serve starts a grpc.Server bound to addr, blocking until it stops.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcapi: listen on %s: %w", addr, err)
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(s.logger)))
	RegisterControlServer(s.grpcServer, s)
	s.logger.Info().Str("addr", addr).Msg("rpcapi: control server listening")
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}
