package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	once         sync.Once
	base         = log.New(os.Stdout, "", 0)
	debugEnabled bool

	mirrorMu sync.RWMutex
	mirror   func(line string)
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled = v }

// SetMirror registers fn to receive every emitted log line (nil disables).
// The daemon uses it to feed its in-memory log ring.
func SetMirror(fn func(line string)) {
	mirrorMu.Lock()
	mirror = fn
	mirrorMu.Unlock()
}

type Fields map[string]any

func logWith(level, msg string, f Fields) {
	once.Do(func() { base.SetFlags(0) })
	out := make(Fields, len(f)+3)
	for k, v := range f {
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		out[k] = v
	}
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["level"] = level
	out["msg"] = msg
	b, err := json.Marshal(out)
	if err != nil {
		base.Printf("{\"level\":\"error\",\"msg\":\"log marshal failure\",\"err\":%q}", err.Error())
		return
	}
	line := string(b)
	base.Println(line)

	mirrorMu.RLock()
	fn := mirror
	mirrorMu.RUnlock()
	if fn != nil {
		fn(line)
	}
}

func Info(msg string, f Fields)  { logWith("info", msg, f) }
func Warn(msg string, f Fields)  { logWith("warn", msg, f) }
func Error(msg string, f Fields) { logWith("error", msg, f) }
func Debug(msg string, f Fields) {
	if debugEnabled {
		logWith("debug", msg, f)
	}
}
