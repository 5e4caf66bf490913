// Package logx is cliprelay's logging layer over zerolog.
//
// Console output is human-readable with a short file:line caller; the
// optional file sink gets JSON lines. A Service can swap level and sinks
// at runtime, and every Logger derived from it follows.
package logx
