// Package logging provides the bracketed-tag logger used across the engine,
// continuing the [Component] prefix convention the rest of the codebase uses.
package logging

import (
	"log"
	"os"
)

type Logger struct {
	tag string
	std *log.Logger
}

func New(tag string) *Logger {
	return &Logger{
		tag: tag,
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf("["+l.tag+"] "+format, args...)
}

func (l *Logger) Println(args ...any) {
	all := append([]any{"[" + l.tag + "]"}, args...)
	l.std.Println(all...)
}

// With returns a child logger scoped to a sub-tag, e.g. logging.New("imap").With("acct-1").
func (l *Logger) With(subtag string) *Logger {
	return New(l.tag + ":" + subtag)
}
