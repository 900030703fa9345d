package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so
// zap cores (for example the test observer) can be used directly.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs to the underlying writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that writes human readable logs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that writes human readable logs to the given writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	fmt.Fprintln(appender.Writer, line) //nolint:errcheck
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// FileAppender writes human readable logs to a file that is rotated once it grows past
// FileAppenderMaxSizeMB.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// FileAppenderMaxSizeMB is the size at which a log file is rotated.
const FileAppenderMaxSizeMB = 64

// NewFileAppender creates a FileAppender writing to filename. The file is opened on first write.
func NewFileAppender(filename string) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    FileAppenderMaxSizeMB,
		MaxBackups: 2,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: ConsoleAppender{file}, file: file}
}

// Close closes the current log file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}

// formatEntry renders an entry as tab separated time, level, logger name, caller, message and
// JSON encoded fields. If the fields cannot be encoded the line is returned without them.
func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)
	if len(fields) == 0 {
		return strings.Join(parts, "\t"), nil
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return strings.Join(parts, "\t"), err
	}
	return strings.Join(append(parts, encoded), "\t"), nil
}

// encodeFields uses zap's json encoder which will encode our slice of fields in-order. As opposed
// to the random iteration order of a map. Call it with an empty Entry object such that only the
// fields become "map-ified".
func encodeFields(fields []zapcore.Field) (string, error) {
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return "", err
	}
	defer buf.Free()
	return buf.String(), nil
}

// callerToString returns e.g. "mpc/controller.go:117".
func callerToString(caller *zapcore.EntryCaller) string {
	// The file returned by `runtime.Caller` is a full path and always contains '/' to separate
	// directories. Including on windows. We only want to keep the `<package>/<file>` part of the
	// path. We use a stateful lambda to count back two '/' runes.
	cnt := 0
	idx := strings.LastIndexFunc(caller.File, func(rn rune) bool {
		if rn == '/' {
			cnt++
		}

		return cnt == 2
	})

	// If idx >= 0, then we add 1 to trim the leading '/'.
	// If idx == -1 (not found), we add 1 to return the entire file.
	return fmt.Sprintf("%s:%d", caller.File[idx+1:], caller.Line)
}
