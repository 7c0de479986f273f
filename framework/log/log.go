/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package log implements a minimalistic logging library.
//
// Log lines are formatted as "name: msg\t{json fields}", debug lines are
// dropped unless the Logger has Debug set.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mailhaul/outbound/framework/exterrors"
)

// Logger is the structure that writes formatted output to the underlying
// log.Output object.
//
// Logger is stateless and can be copied freely. No serialization is provided
// by Logger, it is log.Output responsibility to ensure goroutine-safety if
// necessary.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Additional fields that will be added to each message.
	Fields map[string]interface{}
}

// With returns a copy of l with additional fields attached to every
// message it writes.
func (l Logger) With(fields ...interface{}) Logger {
	newF := make(map[string]interface{}, len(l.Fields)+len(fields)/2)
	for k, v := range l.Fields {
		newF[k] = v
	}
	fieldsToMap(fields, newF)
	l.Fields = newF
	return l
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes an event log message in a machine-readable format:
//
//	name: msg\t{"key":"value","key2":"value2"}
//
// Key-value pairs are built from fields slice which should contain key strings
// followed by corresponding values.
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Error writes an event log message with information about err. Fields
// attached to err using exterrors.WithFields are included, the error text
// is added as "reason" unless err already has one.
//
// msg should describe the context in which the error is handled, not the
// error itself.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+2)
	for k, v := range errFields {
		allFields[k] = v
	}
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func (l Logger) DebugMsg(kind string, fields ...interface{}) {
	if !l.Debug {
		return
	}
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(true, l.formatMsg(kind, m))
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				out[fmt.Sprint("field", i)] = val
				lastKey = ""
				continue
			}
			lastKey = key
			continue
		}
		if lastKey != "" {
			out[lastKey] = val
		}
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	formatted := strings.Builder{}

	formatted.WriteString(msg)
	formatted.WriteRune('\t')

	if len(l.Fields)+len(fields) != 0 {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		for k, v := range l.Fields {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
		if err := marshalOrderedJSON(&formatted, fields); err != nil {
			return fmt.Sprintf("[BROKEN FORMATTING: %v] %v %+v", err, msg, fields)
		}
	}

	return formatted.String()
}

type LogFormatter interface {
	FormatLog() string
}

// Write implements io.Writer, each call is written as a separate message.
func (l Logger) Write(s []byte) (int, error) {
	l.log(false, strings.TrimRight(string(s), "\n"))
	return len(s), nil
}

// DebugWriter returns a writer that will act like Logger.Write but will use
// debug flag on messages. If Logger.Debug is false, writes are discarded.
func (l Logger) DebugWriter() io.Writer {
	if !l.Debug {
		return io.Discard
	}
	return debugWriter{l}
}

type debugWriter struct {
	l Logger
}

func (dw debugWriter) Write(s []byte) (int, error) {
	dw.l.log(true, strings.TrimRight(string(s), "\n"))
	return len(s), nil
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}

	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
		return
	}
}

// DefaultLogger is the global Logger object that is used by package-level
// logging functions and by Loggers without Out.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, false)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
func Println(val ...interface{})               { DefaultLogger.Println(val...) }
