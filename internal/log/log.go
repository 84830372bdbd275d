package log

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	KeyAppName   = "app"
	KeyTag       = "tag"
	KeyProcess   = "process"
	KeyRequestID = "requestId"
	KeyUserID    = "userId"
	KeyProductID = "productId"
	KeyQuantity  = "quantity"
	KeyConfig    = "config"
)

type Options struct {
	AppName string
	Level   string
	// File enables a rotated log file next to stdout when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func New(opts Options) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.ErrorFieldName = "error"
	zerolog.ErrorStackFieldName = "stack-trace"
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.MessageFieldName = "message"
	zerolog.TimestampFieldName = "timestamp"

	var output io.Writer = os.Stdout
	if opts.File != "" {
		output = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		})
	}

	return zerolog.New(output).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str(KeyAppName, opts.AppName).
		Int("pid", os.Getpid()).
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
