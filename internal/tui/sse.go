package tui

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/mattjoyce/telbridge/internal/events"
)

// readSSE parses a server-sent event stream and calls fn for every complete event
// until the stream ends or fn returns false.
func readSSE(r io.Reader, fn func(events.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		ev   events.Event
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.Data = []byte(strings.Join(data, "\n"))
				if !fn(ev) {
					return nil
				}
			}
			ev, data = events.Event{}, nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id:"):
			ev.ID, _ = strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64)
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line[5:], " "))
		}
	}
	return scanner.Err()
}
