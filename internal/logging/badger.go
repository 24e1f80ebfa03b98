package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// BadgerLogger adapts zerolog to badger's Logger interface.
// Badger's info chatter is demoted to debug.
type BadgerLogger struct {
	component string
}

// NewBadgerLogger returns a badger logger tagged with the given component.
func NewBadgerLogger(component string) *BadgerLogger {
	return &BadgerLogger{component: component}
}

func (b *BadgerLogger) emit(ev *zerolog.Event, format string, args ...any) {
	ev.Str("component", b.component).Msgf(strings.TrimSuffix(format, "\n"), args...)
}

func (b *BadgerLogger) Errorf(format string, args ...any) { b.emit(Error(), format, args...) }

func (b *BadgerLogger) Warningf(format string, args ...any) { b.emit(Warn(), format, args...) }

func (b *BadgerLogger) Infof(format string, args ...any) { b.emit(Debug(), format, args...) }

func (b *BadgerLogger) Debugf(format string, args ...any) { b.emit(Debug(), format, args...) }
