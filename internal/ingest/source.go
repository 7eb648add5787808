package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// Pump decodes feed lines into filtered frames and sends them on out until
// lines is closed or ctx is done. Heartbeats and unrecognised or malformed
// lines are logged and skipped; a bad line never stops the feed.
func Pump(ctx context.Context, lines <-chan string, filter Filter, out chan<- Frame) error {
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch ClassifyPayload([]byte(line)) {
		case PayloadFrame:
		case PayloadHeartbeat:
			monitoring.Logger().WithField("payload", line).Debug("detector heartbeat")
			continue
		default:
			monitoring.Logf("ignoring unrecognised feed line: %.120s", line)
			continue
		}

		f, err := Decode([]byte(line))
		if err != nil {
			monitoring.Logf("dropping malformed frame: %v", err)
			continue
		}
		f.Detections = filter.Apply(f.Detections)

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ScanFrames reads a JSONL recording and calls fn for every frame line,
// skipping heartbeats and blank lines. Malformed frames are an error
// carrying the line number.
func ScanFrames(r io.Reader, filter Filter, fn func(Frame) error) error {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := scan.Bytes()
		if len(line) == 0 || ClassifyPayload(line) != PayloadFrame {
			continue
		}
		f, err := Decode(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		f.Detections = filter.Apply(f.Detections)
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed to read frames: %w", err)
	}
	return nil
}
