// SPDX-License-Identifier: Apache-2.0

package logging

import "github.com/rs/zerolog"

// Fields is a structured field set attached to a single log line.
type Fields map[string]interface{}

// Logger is the capability interface the core state machines
// (loadbalancer, cluster) depend on instead of importing zerolog
// directly. It is deliberately narrow: a message plus a field set, at
// one of four levels.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// New adapts a zerolog.Logger to the Logger capability interface.
func New(z zerolog.Logger) Logger {
	return &zerologAdapter{z: z}
}

type zerologAdapter struct {
	z zerolog.Logger
}

func (a *zerologAdapter) Debug(msg string, fields Fields) { a.emit(a.z.Debug(), msg, fields) }
func (a *zerologAdapter) Info(msg string, fields Fields)  { a.emit(a.z.Info(), msg, fields) }
func (a *zerologAdapter) Warn(msg string, fields Fields)  { a.emit(a.z.Warn(), msg, fields) }
func (a *zerologAdapter) Error(msg string, fields Fields) { a.emit(a.z.Error(), msg, fields) }

func (a *zerologAdapter) emit(ev *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Nop returns a Logger that discards everything, useful as a default
// in tests that don't care about log output.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}
