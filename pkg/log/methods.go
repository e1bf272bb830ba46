package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

func (l *BaseLogger) clone() *BaseLogger {
	nf := make(Fields, len(l.fields))
	for k, v := range l.fields {
		nf[k] = v
	}
	return &BaseLogger{
		level:      l.level,
		fields:     nf,
		formatter:  l.formatter,
		outputs:    l.outputs,
		slogLogger: l.slogLogger,
	}
}

// emit merges the logger's bound fields with call-site fields and routes the
// record through slog, whose bridgeHandler applies this logger's formatter
// and outputs. This keeps stdlib-originated logs (redirected via
// RedirectStdLog) and facade-originated logs on the same rendering path.
func (l *BaseLogger) emit(level Level, msg string, extra Fields) {
	if level < l.level {
		return
	}
	var attrs []slog.Attr
	if len(l.fields) > 0 {
		attrs = append(attrs, attrsFromMap(l.fields)...)
	}
	if len(extra) > 0 {
		attrs = append(attrs, attrsFromMap(extra)...)
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

func fieldsFromSlice(fields []Field) Fields {
	if len(fields) == 0 {
		return nil
	}
	m := make(Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fieldsFromSlice(fields)) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fieldsFromSlice(fields)) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fieldsFromSlice(fields)) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fieldsFromSlice(fields)) }
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.emit(FatalLevel, msg, fieldsFromSlice(fields)) }

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.emit(DebugLevel, fmt.Sprintf(msg, args...), nil) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.emit(InfoLevel, fmt.Sprintf(msg, args...), nil) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.emit(WarnLevel, fmt.Sprintf(msg, args...), nil) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.emit(ErrorLevel, fmt.Sprintf(msg, args...), nil) }
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) { l.emit(FatalLevel, fmt.Sprintf(msg, args...), nil) }

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	c := l.clone()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

func (l *BaseLogger) WithError(err error) Logger {
	c := l.clone()
	c.fields["error"] = err
	return c
}

func (l *BaseLogger) With(fields ...Field) Logger {
	c := l.clone()
	for _, f := range fields {
		c.fields[f.Key] = f.Value
	}
	return c
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	extracted := ContextExtractor(ctx)
	if len(extracted) == 0 {
		return l
	}
	c := l.clone()
	for k, v := range extracted {
		c.fields[k] = v
	}
	return c
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.WithField(ComponentKey, component)
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }
func (l *BaseLogger) GetLevel() Level      { return l.level }
