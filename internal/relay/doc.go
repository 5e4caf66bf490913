// Package relay moves captured lines to chat destinations.
//
// The capture side (Producer) deduplicates lines across all destinations,
// groups them per destination into batches of DefaultBatchSize and puts Send
// instructions on a bounded Queue. When capture ends, every partial batch is
// flushed in a single SendAndQuit, which is always the last instruction.
//
// The delivery side (Loop) is the only consumer. It starts once the backend
// reports readiness, first replaying any backlog left at a destination's
// source target (Recovery), then dequeues one instruction per poll interval.
// SendAndQuit, or a closed queue, ends the loop and terminates the backend
// connection. Instructions are delivered at most once: a failed dispatch is
// logged and dropped.
package relay
