package main

import (
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/section"
)

// threadView is the part of a message list the renderer reads.
type threadView interface {
	Sections() []section.Section[model.Message]
	SameGroupPrevious(c section.Coordinate) (model.Message, bool)
}

// render prints one header per day and one line per message. Consecutive
// messages of the same sender omit the sender column.
func render(w io.Writer, v threadView, loc *time.Location) {
	for s, sec := range v.Sections() {
		fmt.Fprintf(w, "-- %s --\n", sec.Key)
		for r, m := range sec.Items {
			sender := fmt.Sprintf("@%d", m.SenderID)
			if _, ok := v.SameGroupPrevious(section.Coordinate{Section: s, Row: r}); ok {
				sender = ""
			}
			fmt.Fprintf(w, "%-8s %5s %-6s %s%s\n", formatID(m), formatClock(m, loc), sender, m.Body, statusSuffix(m))
		}
	}
}

func formatID(m model.Message) string {
	if id, ok := m.SeqID(); ok {
		return fmt.Sprintf("#%d", id)
	}
	return "pending"
}

func formatClock(m model.Message, loc *time.Location) string {
	ms, ok := m.SeqTime()
	if !ok {
		return "--:--"
	}
	return time.UnixMilli(int64(ms)).In(loc).Format("15:04")
}

func statusSuffix(m model.Message) string {
	if m.Status == model.StatusFailed {
		return " (failed)"
	}
	return ""
}

type jsonMessage struct {
	ID       *int64  `json:"id,omitempty"`
	UniqueID string  `json:"unique_id,omitempty"`
	ThreadID int64   `json:"thread_id"`
	SenderID int64   `json:"sender_id"`
	Body     string  `json:"body"`
	Status   string  `json:"status"`
	Time     *uint64 `json:"time,omitempty"`
}

type jsonSection struct {
	Day      string        `json:"day"`
	Messages []jsonMessage `json:"messages"`
}

func messageJSON(m model.Message) jsonMessage {
	return jsonMessage(m)
}

func sectionsJSON(secs []section.Section[model.Message]) []jsonSection {
	out := make([]jsonSection, 0, len(secs))
	for _, sec := range secs {
		js := jsonSection{Day: sec.Key.String(), Messages: make([]jsonMessage, 0, len(sec.Items))}
		for _, m := range sec.Items {
			js.Messages = append(js.Messages, messageJSON(m))
		}
		out = append(out, js)
	}
	return out
}
