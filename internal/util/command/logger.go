package command

import (
	"io"
	"os"
	"time"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger 按配置设置全局日志级别与输出格式，未知级别时退回 info
func SetupLogger(cfg config.Logger) {
	SetupLoggerTo(os.Stderr, cfg)
}

// SetupLoggerTo 同 SetupLogger，输出到 w
func SetupLoggerTo(w io.Writer, cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
