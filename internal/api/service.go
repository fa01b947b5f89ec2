package api

import (
	"context"
	"errors"
	"time"

	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/store"
	intsync "github.com/bibekanandan892/peerchat/internal/sync"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Engine is the protocol engine as seen by the control service.
type Engine interface {
	Snapshot() intsync.Snapshot
	SendMessage(ctx context.Context, text string) (*store.Message, error)
	Accept(ctx context.Context) error
	Rematch(ctx context.Context) error
	Exit(ctx context.Context) error
	SetConnectivity(ctx context.Context, available bool) error
	Messages() ([]store.Message, error)
}

// ControlService implements ControlServer over the engine and store.
type ControlService struct {
	sessionName string
	startedAt   time.Time
	engine      Engine
	db          *store.DB
	bus         *bus.Bus
	logger      *zap.Logger
}

var _ ControlServer = (*ControlService)(nil)

// NewControlService creates a new control service.
func NewControlService(sessionName string, engine Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      engine,
		db:          db,
		bus:         b,
		logger:      logger,
	}
}

type statusView struct {
	Session     string `json:"session"`
	UptimeMs    int64  `json:"uptime_ms"`
	OutboxDepth int    `json:"outbox_depth"`
	Messages    int    `json:"message_count"`
	intsync.Snapshot
}

func (s *ControlService) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	view := statusView{
		Session:  s.sessionName,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Snapshot: s.engine.Snapshot(),
	}
	if s.db != nil {
		if n, err := s.db.CountOutbox(); err == nil {
			view.OutboxDepth = n
		}
	}
	if msgs, err := s.engine.Messages(); err == nil {
		view.Messages = len(msgs)
	}
	out, err := toStruct(view)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *ControlService) Send(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	msg, err := s.engine.SendMessage(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus("send", err)
	}
	if msg == nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message is empty")
	}
	out, err := toStruct(msg)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode message: %v", err)
	}
	return out, nil
}

func (s *ControlService) Accept(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.Accept(ctx); err != nil {
		return nil, toStatus("accept", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) Rematch(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.Rematch(ctx); err != nil {
		return nil, toStatus("rematch", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) Exit(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.Exit(ctx); err != nil {
		return nil, toStatus("exit", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) Connectivity(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	if err := s.engine.SetConnectivity(ctx, req.GetValue()); err != nil {
		return nil, toStatus("connectivity", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) ListMessages(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	msgs, err := s.engine.Messages()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	out := &structpb.ListValue{}
	for _, m := range msgs {
		v, err := toValue(m)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "encode message: %v", err)
		}
		out.Values = append(out.Values, v)
	}
	return out, nil
}

func (s *ControlService) WatchEvents(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}
	ch, unsub := s.bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := toValue(evt.Payload)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{
				"event_id":       structpb.NewStringValue(uuid.NewString()),
				"session":        structpb.NewStringValue(s.sessionName),
				"kind":           structpb.NewStringValue(evt.Kind),
				"occurred_at_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
				"payload":        payload,
			}}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, intsync.ErrStopped):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
