package relay

import (
	"strings"

	kit "cliprelay/internal/transport"
)

// DefaultBatchSize is the number of lines grouped into one outbound message.
const DefaultBatchSize = 5

// LineSeparator joins batched lines and splits recovered messages.
const LineSeparator = "\n"

// Destination is one routing target.
// Source is zero when the destination has no recovery channel.
type Destination struct {
	Name   string
	Send   kit.ChatTarget
	Source kit.ChatTarget
}

func (d Destination) HasSource() bool { return !d.Source.IsZero() }

// Instruction is the unit carried on the Queue: either Send or SendAndQuit.
type Instruction interface {
	isInstruction()
}

// Send delivers one joined batch to a destination.
type Send struct {
	Content     string
	Destination int
}

// SendAndQuit carries one content string per destination, in index order.
// An empty string means nothing to send for that destination.
// It is the last instruction a producer ever enqueues.
type SendAndQuit struct {
	Contents []string
}

func (Send) isInstruction()        {}
func (SendAndQuit) isInstruction() {}

// SplitLines splits captured text into candidate lines.
// A trailing carriage return is dropped so CRLF text splits like LF text.
// Empty lines are kept; Ingest discards them.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, LineSeparator)
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

// chunk groups lines into slices of at most size elements, preserving order.
func chunk(lines []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(lines)+size-1)/size)
	for len(lines) > 0 {
		n := min(size, len(lines))
		out = append(out, lines[:n])
		lines = lines[n:]
	}
	return out
}
