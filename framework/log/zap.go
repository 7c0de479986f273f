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

package log

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	L Logger
}

func (l zapLogger) Enabled(level zapcore.Level) bool {
	if l.L.Debug {
		return true
	}
	return level > zapcore.DebugLevel
}

func (l zapLogger) With(fields []zapcore.Field) zapcore.Core {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	newF := make(map[string]interface{}, len(l.L.Fields)+len(enc.Fields))
	for k, v := range l.L.Fields {
		newF[k] = v
	}
	for k, v := range enc.Fields {
		newF[k] = v
	}
	l.L.Fields = newF
	return l
}

func (l zapLogger) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if l.Enabled(entry.Level) {
		return ce.AddCore(entry, l)
	}
	return ce
}

func (l zapLogger) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	if entry.LoggerName != "" {
		l.L.Name += "/" + entry.LoggerName
	}
	l.L.log(entry.Level == zapcore.DebugLevel, l.L.formatMsg(entry.Message, enc.Fields))
	return nil
}

func (zapLogger) Sync() error {
	return nil
}

// Zap returns a *zap.Logger that writes through l.
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapLogger{L: l})
}

type zapOut struct {
	z *zap.Logger
}

func (zo zapOut) Write(stamp time.Time, debug bool, msg string) {
	// Messages arrive preformatted as "name: msg\t{fields}".
	text, fields, _ := strings.Cut(msg, "\t")
	zf := make([]zap.Field, 0, 2)
	if fields != "" {
		zf = append(zf, zap.Any("fields", rawJSON(fields)))
	}
	if ce := zo.z.Check(levelFor(debug), text); ce != nil {
		ce.Time = stamp
		ce.Write(zf...)
	}
}

func (zo zapOut) Close() error {
	// Sync on stderr returns EINVAL on some platforms, ignore it.
	_ = zo.z.Sync()
	return nil
}

type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) {
	return []byte(r), nil
}

func levelFor(debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// ZapOutput returns a log.Output that encodes messages as JSON lines using
// zap's production encoder and writes them to ws.
func ZapOutput(ws zapcore.WriteSyncer, debug bool) Output {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, zap.NewAtomicLevelAt(levelFor(debug)))
	return zapOut{z: zap.New(core)}
}
