package logging

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionFactory routes pion's scoped loggers into zap. pion is chatty at debug,
// so trace output is dropped entirely.
type PionFactory struct {
	Logger *zap.Logger
}

// NewPionFactory returns a factory backed by the global zap logger.
func NewPionFactory() *PionFactory {
	return &PionFactory{Logger: zap.L()}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = zap.L()
	}
	return &pionLogger{l: l.Named("pion").With(zap.String("scope", scope)).Sugar()}
}

type pionLogger struct {
	l *zap.SugaredLogger
}

func (p *pionLogger) Trace(string)          {}
func (p *pionLogger) Tracef(string, ...any) {}

func (p *pionLogger) Debug(msg string)                  { p.l.Debug(msg) }
func (p *pionLogger) Debugf(format string, args ...any) { p.l.Debug(fmt.Sprintf(format, args...)) }
func (p *pionLogger) Info(msg string)                   { p.l.Info(msg) }
func (p *pionLogger) Infof(format string, args ...any)  { p.l.Info(fmt.Sprintf(format, args...)) }
func (p *pionLogger) Warn(msg string)                   { p.l.Warn(msg) }
func (p *pionLogger) Warnf(format string, args ...any)  { p.l.Warn(fmt.Sprintf(format, args...)) }
func (p *pionLogger) Error(msg string)                  { p.l.Error(msg) }
func (p *pionLogger) Errorf(format string, args ...any) { p.l.Error(fmt.Sprintf(format, args...)) }
