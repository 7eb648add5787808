package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// WatchMethod is the full gRPC method name of the update stream.
const WatchMethod = "/occupancy.v1.CountFeed/Watch"

// CountFeedServer is the server API of the occupancy.v1.CountFeed service.
type CountFeedServer interface {
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// CountFeedServiceDesc describes occupancy.v1.CountFeed. Messages are the
// well-known Empty and Struct types so no generated code is needed.
var CountFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: "occupancy.v1.CountFeed",
	HandlerType: (*CountFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "occupancy/v1/feed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(CountFeedServer).Watch(req, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Watch opens an update stream on cc.
func Watch(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := cc.NewStream(ctx, &CountFeedServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Config holds the gRPC publisher settings.
type Config struct {
	// ListenAddr is the gRPC listen address (e.g. "localhost:50061").
	ListenAddr string
	// MaxClients bounds concurrent Watch streams.
	MaxClients int
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 8,
	}
}

// Publisher serves CountFeed over gRPC, streaming updates from a Hub.
type Publisher struct {
	config   Config
	hub      *Hub
	server   *grpc.Server
	listener net.Listener

	streams atomic.Int32
	running atomic.Bool
	wg      sync.WaitGroup
}

var _ CountFeedServer = (*Publisher)(nil)

// NewPublisher creates a Publisher over hub.
func NewPublisher(cfg Config, hub *Hub) *Publisher {
	return &Publisher{config: cfg, hub: hub}
}

// Start binds ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&CountFeedServiceDesc, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[feed] gRPC CountFeed listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) && p.running.Load() {
			monitoring.Logf("[feed] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the gRPC server and cancels open Watch streams.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	if p.server != nil {
		p.server.Stop()
	}
	p.wg.Wait()
	monitoring.Logf("[feed] gRPC server stopped")
}

// Watch implements CountFeedServer.
func (p *Publisher) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if limit := p.config.MaxClients; limit > 0 && int(p.streams.Load()) >= limit {
		return status.Errorf(codes.ResourceExhausted, "at most %d watchers", limit)
	}
	updates, cancel, err := p.hub.Subscribe(0)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer cancel()
	p.streams.Add(1)
	defer p.streams.Add(-1)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			msg, err := u.Struct()
			if err != nil {
				return status.Errorf(codes.Internal, "encode update: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
