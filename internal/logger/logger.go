package logger

import (
	"fmt"
	"time"
)

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
	bold   = "\033[1m"
)

func stamp() string {
	return gray + time.Now().Format("15:04:05") + reset
}

// Info logs an informational message under a component tag.
func Info(tag, msg string) {
	fmt.Printf("%s %s[%s]%s %s\n", stamp(), cyan, tag, reset, msg)
}

// Success logs a completed action under a component tag.
func Success(tag, msg string) {
	fmt.Printf("%s %s[%s]%s %s\n", stamp(), green, tag, reset, msg)
}

// Warn logs a recoverable problem under a component tag.
func Warn(tag, msg string) {
	fmt.Printf("%s %s[%s]%s %s\n", stamp(), yellow, tag, reset, msg)
}

// Error logs a failure under a component tag.
func Error(tag, msg string) {
	fmt.Printf("%s %s[%s]%s %s\n", stamp(), red, tag, reset, msg)
}

// Banner prints the startup header with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Println()
	fmt.Printf("  %sentropic%s %s— maximum-entropy portfolio allocator%s\n", bold+cyan, reset, gray, reset)
	fmt.Printf("  %s%s%s\n", gray, version, reset)
	fmt.Println()
}

// Section prints a visual divider with a title.
func Section(title string) {
	fmt.Printf("\n%s── %s ──%s\n", gray, title, reset)
}

// Stats prints a key/value pair, aligned for scanning.
func Stats(key string, value interface{}) {
	fmt.Printf("  %s%-24s%s %v\n", gray, key, reset, value)
}

// Server prints the listen address once the HTTP server is up.
func Server(addr string) {
	fmt.Printf("%s %s[Server]%s Listening on %shttp://%s%s\n", stamp(), green, reset, bold, addr, reset)
}
