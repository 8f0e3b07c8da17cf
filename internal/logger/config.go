// internal/logger/config.go
package logger

import "io"

type Config struct {
	LogFile    string
	MaxSize    int  // megabytes
	MaxAge     int  // days
	MaxBackups int  // files
	Compress   bool // gzip rotated files
	Debug      bool
	// Pretty switches the console to the short colored format.
	Pretty bool
	// Console defaults to stdout.
	Console io.Writer
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LogFile:    "logs/saled.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}
