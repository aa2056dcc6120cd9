package api

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxPageSize bounds the count a client may ask for in one FetchPage.
const MaxPageSize = 200

// HistoryService implements HistoryServer over the history store.
type HistoryService struct {
	db      *store.DB
	sender  *outbox.Sender
	machine *status.Machine
	bus     *bus.Bus
	profile string
	logger  *zap.Logger
}

// NewHistoryService creates the service. machine and b may be nil.
func NewHistoryService(profile string, db *store.DB, sender *outbox.Sender, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{
		db:      db,
		sender:  sender,
		machine: machine,
		bus:     b,
		profile: profile,
		logger:  logger,
	}
}

// FetchPage returns one page of a thread, newest first.
//
// Request: thread_id, offset, count, filter, and total_count (bool) to ask
// for a legacy response. Response: items plus has_next, or total_count when
// asked for.
func (s *HistoryService) FetchPage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	threadID, ok, err := Int(req, "thread_id")
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return nil, grpcstatus.Error(codes.InvalidArgument, "thread_id is required")
	}
	offset, _, err := Int(req, "offset")
	if err != nil || offset < 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "invalid offset: %v", req.GetFields()["offset"])
	}
	count, _, err := Int(req, "count")
	if err != nil || count <= 0 || count > MaxPageSize {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "count must be in 1..%d", MaxPageSize)
	}
	filter := String(req, "filter")

	msgs, err := s.db.ListMessages(threadID, filter, int(offset), int(count))
	if err != nil {
		s.logger.Error("list messages failed", zap.Error(err), zap.Int64("thread_id", threadID))
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	total, err := s.db.CountMessages(threadID, filter)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count messages: %v", err)
	}

	fields := map[string]*structpb.Value{
		"items": MessagesToList(msgs),
	}
	if Bool(req, "total_count") {
		fields["total_count"] = structpb.NewNumberValue(float64(total))
	} else {
		fields["has_next"] = structpb.NewBoolValue(int(offset)+len(msgs) < total)
	}
	return &structpb.Struct{Fields: fields}, nil
}

// SendMessage stores and confirms a message. The request carries thread_id,
// sender_id, body and an optional unique_id; resending the same unique_id
// returns the message confirmed the first time.
func (s *HistoryService) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	threadID, ok, err := Int(req, "thread_id")
	if err != nil || !ok {
		return nil, grpcstatus.Error(codes.InvalidArgument, "thread_id is required")
	}
	senderID, _, err := Int(req, "sender_id")
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	body := String(req, "body")
	if body == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "body is required")
	}

	confirmed, err := s.sender.Send(ctx, store.OutboxEntry{
		UniqueID: String(req, "unique_id"),
		ThreadID: threadID,
		SenderID: senderID,
		Body:     body,
	})
	if err != nil {
		s.logger.Warn("send rejected", zap.Error(err), zap.Int64("thread_id", threadID))
		return nil, grpcstatus.Errorf(codes.Unavailable, "send: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message": structpb.NewStructValue(MessageToStruct(confirmed)),
	}}, nil
}

// GetStatus reports the daemon profile and state.
func (s *HistoryService) GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	state := status.Booting
	if s.machine != nil {
		state = s.machine.Current()
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"profile": structpb.NewStringValue(s.profile),
		"state":   structpb.NewStringValue(string(state)),
	}}, nil
}

// WatchEvents streams send outcomes until the client goes away. An optional
// thread_id restricts the stream to one thread.
func (s *HistoryService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "events are not available")
	}
	threadID, filtered, err := Int(req, "thread_id")
	if err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}

	ch, unsub := s.bus.Subscribe("message.", 64)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, thread, ok := EventToStruct(evt)
			if !ok || (filtered && thread != threadID) {
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// EventToStruct encodes a message event for the wire and reports the thread
// it belongs to. ok is false for events that are not sent to clients.
func EventToStruct(evt bus.Event) (out *structpb.Struct, threadID int64, ok bool) {
	fields := map[string]*structpb.Value{
		"kind":         structpb.NewStringValue(evt.Kind),
		"timestamp_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
	}
	switch p := evt.Payload.(type) {
	case model.Message:
		fields["message"] = structpb.NewStructValue(MessageToStruct(p))
		threadID = p.ThreadID
	case bus.SendFailure:
		fields["unique_id"] = structpb.NewStringValue(p.UniqueID)
		fields["error"] = structpb.NewStringValue(p.Err)
		threadID = p.ThreadID
	default:
		return nil, 0, false
	}
	return &structpb.Struct{Fields: fields}, threadID, true
}

// EventFromStruct decodes an event written by EventToStruct.
func EventFromStruct(s *structpb.Struct) (bus.Event, error) {
	kind := String(s, "kind")
	ms, _, err := Int(s, "timestamp_ms")
	if err != nil {
		return bus.Event{}, err
	}
	evt := bus.Event{Kind: kind, Timestamp: time.UnixMilli(ms)}
	if sv := s.GetFields()["message"].GetStructValue(); sv != nil {
		m, err := MessageFromStruct(sv)
		if err != nil {
			return bus.Event{}, fmt.Errorf("event %s: %w", kind, err)
		}
		evt.Payload = m
		return evt, nil
	}
	if kind == bus.KindSendFailed {
		evt.Payload = bus.SendFailure{UniqueID: String(s, "unique_id"), Err: String(s, "error")}
		return evt, nil
	}
	return bus.Event{}, fmt.Errorf("event %q has no payload", kind)
}
