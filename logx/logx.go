package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultLogFile      = "stakepool.log"
	defaultMaxSizeMB    = 500
	defaultMaxAgeDays   = 7
	defaultMaxBackups   = 10
	envLogFile          = "LOGFILE"
	envLogFileMaxSizeMB = "LOGFILE_MAX_SIZE_MB"
	envLogFileMaxAge    = "LOGFILE_MAX_AGE_DAYS"
	envLogDebug         = "LOG_DEBUG"
)

var (
	mu     sync.RWMutex
	logger *log.Logger
	debug  atomic.Bool
)

func init() {
	logger = log.New(&lumberjack.Logger{
		Filename:   getLogFilename(),
		MaxSize:    envInt(envLogFileMaxSizeMB, defaultMaxSizeMB), // megabytes
		MaxAge:     envInt(envLogFileMaxAge, defaultMaxAgeDays),   // days
		MaxBackups: defaultMaxBackups,
	}, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	debug.Store(os.Getenv(envLogDebug) != "")
}

func getLogFilename() string {
	if logFile := os.Getenv(envLogFile); logFile != "" {
		return "./logs/" + logFile
	}
	return "./logs/" + defaultLogFile
}

// envInt falls back to def when the variable is unset. A malformed value is
// a deployment mistake and stops the process.
func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		panic("Invalid value for " + name + ": " + raw)
	}
	return v
}

// SetOutput redirects all categories to w. Used by the CLI to log to stderr
// and by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

// EnableDebug toggles DEBUG output, which is off unless LOG_DEBUG is set.
func EnableDebug(enabled bool) {
	debug.Store(enabled)
}

func write(level, color, category string, content []interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, level, category, ColorReset)
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Printf("%s: %s", coloredCategory, message)
}

func Info(category string, content ...interface{}) {
	write("INFO", ColorGreen, category, content)
}

func Error(category string, content ...interface{}) {
	write("ERROR", ColorRed, category, content)
}

func Warn(category string, content ...interface{}) {
	write("WARN", ColorYellow, category, content)
}

func Debug(category string, content ...interface{}) {
	if !debug.Load() {
		return
	}
	write("DEBUG", ColorBlue, category, content)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
