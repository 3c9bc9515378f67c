// internal/utils/logger/config.go
package logger

// Config controls where and how verbosely the process logs.
type Config struct {
	Level       string // debug, info, warn, error
	LogFile     string // empty disables the file core
	MaxSize     int    // megabytes
	MaxAge      int    // days
	MaxBackups  int
	Compress    bool
	Development bool
	Pretty      bool // colored console lines without caller
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		LogFile:    "logs/mevdetector.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}
