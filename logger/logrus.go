package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alexhholmes/ordex"
)

// Logrus wraps a logrus logger or entry.
type Logrus struct {
	logger logrus.FieldLogger
}

// NewLogrus creates an ordex.Logger that writes to logger. Passing a
// *logrus.Entry keeps the fields already attached to it.
func NewLogrus(logger logrus.FieldLogger) ordex.Logger {
	return &Logrus{logger: logger}
}

func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Error(msg)
}

func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Warn(msg)
}

func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Info(msg)
}

// fields turns alternating key/value args into logrus fields. A dangling
// key is kept with an empty value.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 < len(args) {
			f[key] = args[i+1]
		} else {
			f[key] = ""
		}
	}
	return f
}
