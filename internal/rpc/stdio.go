package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
)

// ServeStdio frames newline-delimited JSON-RPC 2.0 requests over r/w,
// matching the MCP stdio transport mode. It returns when ctx is cancelled
// or the reader reaches EOF.
func ServeStdio(ctx context.Context, d *Dispatcher, r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(w)

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if len(line) == 0 {
				continue
			}
			resp := d.Handle(line)
			if err := enc.Encode(resp); err != nil {
				slog.Warn("stdio rpc: failed to write response", "error", err)
			}
		}
	}
}
