package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/list"
	"github.com/matheus3301/talk/internal/lock"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/profile"
	"github.com/matheus3301/talk/internal/section"
	"github.com/matheus3301/talk/internal/store"
	intsync "github.com/matheus3301/talk/internal/sync"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func cmdStatus(ctx context.Context, e *env) error {
	name, state, err := e.client.Status(ctx)
	if err != nil {
		if owner, oerr := lock.ReadOwner(profile.Dir(e.profile)); oerr == nil {
			return fmt.Errorf("daemon %s for profile %q is not answering on %s: %w", owner, e.profile, owner.Socket, err)
		}
		return fmt.Errorf("no daemon running for profile %q: %w", e.profile, err)
	}
	if e.jsonOut {
		outputJSON(map[string]string{"profile": name, "state": state})
		return nil
	}
	fmt.Printf("Profile: %s\n", name)
	fmt.Printf("State:   %s\n", state)
	return nil
}

func cmdThread(ctx context.Context, e *env, argv []string) error {
	flags := pflag.NewFlagSet("thread", pflag.ContinueOnError)
	pages := flags.Int("pages", 1, "number of pages to load")
	filter := flags.String("filter", "", "only messages whose body contains this text")
	if err := flags.Parse(argv); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: talkctl thread <id> [--pages N] [--filter TEXT]")
	}
	threadID, err := parseThreadID(flags.Arg(0))
	if err != nil {
		return err
	}
	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}

	network := intsync.WriteThrough(e.client.Messages(threadID, e.cfg.Paging.TotalCount), e.bus, threadID)
	l := list.New(network, section.ByDay[model.Message](loc),
		list.WithName[model.Message](fmt.Sprintf("thread/%d", threadID)),
		list.WithCache[model.Message](intsync.NewCacheFetcher(e.cache, threadID)),
		list.WithPageSize[model.Message](e.cfg.Paging.PageSize),
		list.WithFilter[model.Message](*filter),
		list.WithOlderPages[model.Message](),
		list.WithSameGroup(func(a, b model.Message) bool { return a.SenderID == b.SenderID }),
		list.WithLogger[model.Message](e.logger),
	)

	var loadErr error
	if _, err := l.LoadFirstPage(ctx); err != nil {
		loadErr = err
	}
	for i := 1; loadErr == nil && i < *pages && l.CanLoadMore(); i++ {
		if _, err := l.LoadMore(ctx); err != nil {
			loadErr = err
		}
	}
	if loadErr != nil {
		if l.Len() == 0 {
			return loadErr
		}
		e.logger.Warn("showing cached messages", zap.Error(loadErr))
		fmt.Fprintf(os.Stderr, "warning: %v (showing cached messages)\n", loadErr)
	}

	if e.jsonOut {
		outputJSON(sectionsJSON(l.Sections()))
		return nil
	}
	render(os.Stdout, l, loc)
	if l.CanLoadMore() {
		fmt.Println("(more with --pages)")
	}
	return nil
}

func (e *env) sender() *outbox.Sender {
	return outbox.NewSender(e.cache, e.client, e.bus, e.logger)
}

func cmdSend(ctx context.Context, e *env, argv []string) error {
	if len(argv) < 2 {
		return errors.New("usage: talkctl send <thread> <text...>")
	}
	threadID, err := parseThreadID(argv[0])
	if err != nil {
		return err
	}
	body := strings.Join(argv[1:], " ")
	if strings.TrimSpace(body) == "" {
		return errors.New("message body is empty")
	}

	uid := uuid.NewString()
	confirmed, err := e.sender().Send(ctx, store.OutboxEntry{
		UniqueID: uid,
		ThreadID: threadID,
		SenderID: e.cfg.SenderID,
		Body:     body,
	})
	if err != nil {
		return fmt.Errorf("message %s was not delivered (retry with: talkctl retry %s): %w", uid, uid, err)
	}
	return printSent(e, confirmed)
}

func cmdRetry(ctx context.Context, e *env, argv []string) error {
	if len(argv) != 1 {
		return errors.New("usage: talkctl retry <unique-id>")
	}
	confirmed, err := e.sender().Resend(ctx, argv[0])
	if err != nil {
		return fmt.Errorf("message %s was not delivered: %w", argv[0], err)
	}
	return printSent(e, confirmed)
}

func printSent(e *env, m model.Message) error {
	if m.ID == nil {
		return fmt.Errorf("message %s has no server id", m.UniqueID)
	}
	if e.jsonOut {
		outputJSON(messageJSON(m))
		return nil
	}
	fmt.Printf("sent %s as #%d\n", m.UniqueID, *m.ID)
	return nil
}

func cmdWatch(ctx context.Context, e *env, argv []string) error {
	var threadID int64
	if len(argv) > 0 {
		id, err := parseThreadID(argv[0])
		if err != nil {
			return err
		}
		threadID = id
	}

	ch, unsub := e.bus.Subscribe("message.", 64)
	defer unsub()

	errc := make(chan error, 1)
	go func() { errc <- e.client.Watch(ctx, threadID, e.bus) }()

	for {
		select {
		case evt := <-ch:
			printEvent(evt, e.jsonOut)
		case err := <-errc:
			return err
		}
	}
}

func printEvent(evt bus.Event, jsonOut bool) {
	switch p := evt.Payload.(type) {
	case model.Message:
		if jsonOut {
			outputJSON(map[string]any{"kind": evt.Kind, "message": messageJSON(p)})
			return
		}
		fmt.Printf("%s %s thread=%d %s\n", evt.Kind, formatID(p), p.ThreadID, p.Body)
	case bus.SendFailure:
		if jsonOut {
			outputJSON(map[string]any{"kind": evt.Kind, "unique_id": p.UniqueID, "error": p.Err})
			return
		}
		fmt.Printf("%s %s: %s\n", evt.Kind, p.UniqueID, p.Err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
