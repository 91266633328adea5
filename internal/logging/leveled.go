package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Leveled adapts Logger to the key/value leveled logger interface used by
// go-retryablehttp. Info messages are demoted to debug; the retry client logs
// every request at info.
type Leveled struct {
	L *Logger
}

func (a Leveled) Error(msg string, keysAndValues ...interface{}) {
	withFields(a.L.Error(), keysAndValues).Msg(msg)
}

func (a Leveled) Warn(msg string, keysAndValues ...interface{}) {
	withFields(a.L.Warn(), keysAndValues).Msg(msg)
}

func (a Leveled) Info(msg string, keysAndValues ...interface{}) {
	withFields(a.L.Debug(), keysAndValues).Msg(msg)
}

func (a Leveled) Debug(msg string, keysAndValues ...interface{}) {
	withFields(a.L.Debug(), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
