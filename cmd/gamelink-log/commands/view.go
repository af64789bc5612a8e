// Package commands implements the gamelink-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gamelink-protocol/gamelink-go/pkg/log"
)

// timestampLayout is the UTC timestamp format used in all output.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// ViewOptions controls event rendering.
type ViewOptions struct {
	// Text prints payloads as Go-quoted strings instead of hex.
	Text bool
}

// eventType returns a short label for the populated event body.
func eventType(event log.Event) string {
	switch {
	case event.Payload != nil:
		return "Payload"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event, opts ViewOptions) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format(timestampLayout)
	dir := "-"
	if event.Category == log.CategoryData {
		dir = event.Direction.String()
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, shortenConnID(event.ConnectionID), dir, event.Layer.String(), eventType(event))

	if event.LocalAddr != "" || event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Local: %s  Remote: %s\n", orDash(event.LocalAddr), orDash(event.RemoteAddr))
	}
	if event.Group != "" {
		fmt.Fprintf(w, "  Group: %s\n", event.Group)
	}

	switch {
	case event.Payload != nil:
		formatPayloadDetails(w, event.Payload, opts)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatPayloadDetails(w io.Writer, p *log.PayloadEvent, opts ViewOptions) {
	fmt.Fprintf(w, "  Size: %d bytes\n", p.Size)
	if len(p.Data) == 0 {
		return
	}
	if opts.Text {
		fmt.Fprintf(w, "  Data: %s", strconv.Quote(string(p.Data)))
	} else {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(p.Data))
	}
	if p.Truncated {
		fmt.Fprintf(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView prints every event in path matching filter.
func RunView(path string, filter log.Filter, opts ViewOptions, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event, opts)
	}
}
