// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logFileWriter is the rotated log file, when one is configured.
var logFileWriter io.Writer

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitLogging points the global logger at stderr and, when file is set, at a
// rotated log file as well.
func InitLogging(level, file string) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}}
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    1,
			MaxBackups: 2,
		}
		writers = append(writers, lj)
		closer = lj
		logFileWriter = lj
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return closer, nil
}

// quietConsoleLogging stops logging to stderr, keeping the log file if any.
func quietConsoleLogging() {
	if logFileWriter == nil {
		log.Logger = log.Logger.Output(io.Discard)
		return
	}
	log.Logger = log.Logger.Output(logFileWriter)
}
