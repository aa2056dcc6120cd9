// Package remote is the client side of the history service. It serves as the
// network source of a message list and as the outbox transport of talkctl.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/talk/internal/api"
	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/list"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status returns the daemon profile and lifecycle state.
func (c *Client) Status(ctx context.Context) (profile, state string, err error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodGetStatus, &structpb.Struct{}, out); err != nil {
		return "", "", err
	}
	return api.String(out, "profile"), api.String(out, "state"), nil
}

// FetchPage asks the daemon for one page of a thread. With totalCount set
// the page carries a total count instead of a has-next flag.
func (c *Client) FetchPage(ctx context.Context, threadID int64, req list.PageRequest, totalCount bool) (list.Page[model.Message], error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"thread_id":   structpb.NewNumberValue(float64(threadID)),
		"offset":      structpb.NewNumberValue(float64(req.Offset)),
		"count":       structpb.NewNumberValue(float64(req.Count)),
		"filter":      structpb.NewStringValue(req.Filter),
		"total_count": structpb.NewBoolValue(totalCount),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodFetchPage, in, out); err != nil {
		return list.Page[model.Message]{}, err
	}

	items, err := api.MessagesFromList(out, "items")
	if err != nil {
		return list.Page[model.Message]{}, fmt.Errorf("decode page: %w", err)
	}
	page := list.Page[model.Message]{Items: items}
	if v, ok := out.GetFields()["has_next"]; ok {
		hasNext := v.GetBoolValue()
		page.HasNext = &hasNext
	}
	total, ok, err := api.Int(out, "total_count")
	if err != nil {
		return list.Page[model.Message]{}, fmt.Errorf("decode page: %w", err)
	}
	if ok {
		n := int(total)
		page.TotalCount = &n
	}
	return page, nil
}

// Messages returns the network fetcher of one thread.
func (c *Client) Messages(threadID int64, totalCount bool) list.Fetcher[model.Message] {
	return list.FetcherFunc[model.Message](func(ctx context.Context, req list.PageRequest) (list.Page[model.Message], error) {
		return c.FetchPage(ctx, threadID, req, totalCount)
	})
}

// Deliver implements outbox.Transport by sending the entry to the daemon
// under its unique id.
func (c *Client) Deliver(ctx context.Context, e store.OutboxEntry) (model.Message, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"unique_id": structpb.NewStringValue(e.UniqueID),
		"thread_id": structpb.NewNumberValue(float64(e.ThreadID)),
		"sender_id": structpb.NewNumberValue(float64(e.SenderID)),
		"body":      structpb.NewStringValue(e.Body),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodSendMessage, in, out); err != nil {
		return model.Message{}, err
	}
	sv := out.GetFields()["message"].GetStructValue()
	if sv == nil {
		return model.Message{}, errors.New("send response has no message")
	}
	return api.MessageFromStruct(sv)
}

var watchStreamDesc = &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}

// Watch streams the daemon's send outcomes for threadID onto b until ctx is
// done or the stream ends. A threadID of 0 watches every thread.
func (c *Client) Watch(ctx context.Context, threadID int64, b *bus.Bus) error {
	stream, err := c.conn.NewStream(ctx, watchStreamDesc, api.MethodWatchEvents)
	if err != nil {
		return err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if threadID != 0 {
		req.Fields["thread_id"] = structpb.NewNumberValue(float64(threadID))
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		evt, err := api.EventFromStruct(out)
		if err != nil {
			return err
		}
		b.Publish(evt)
	}
}
