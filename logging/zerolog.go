// Package logging adapts structured loggers to consume.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/velmie/consume"
)

// Zerolog adapts a zerolog.Logger. Arguments are key-value pairs; a key which is not a
// string is formatted with %v and a trailing key without a value is logged as "!BADKEY".
type Zerolog struct {
	log zerolog.Logger
}

// NewZerolog wraps l
func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{log: l}
}

// New creates a JSON logger writing to w (stderr when nil) at the given level name.
// An unknown level falls back to info.
func New(w io.Writer, level string) *Zerolog {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return NewZerolog(zerolog.New(w).Level(lvl).With().Timestamp().Logger())
}

func (z *Zerolog) Debug(msg string, args ...any) {
	z.write(z.log.Debug(), msg, args)
}

func (z *Zerolog) Info(msg string, args ...any) {
	z.write(z.log.Info(), msg, args)
}

func (z *Zerolog) Warn(msg string, args ...any) {
	z.write(z.log.Warn(), msg, args)
}

func (z *Zerolog) Error(msg string, args ...any) {
	z.write(z.log.Error(), msg, args)
}

func (z *Zerolog) write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

var _ consume.Logger = (*Zerolog)(nil)
