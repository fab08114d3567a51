package solclash

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger abstracts logging behaviour used across the project.
type Logger interface {
	Printf(format string, args ...any)
}

// NewLogger returns a logger that writes formatted entries with a timestamp and tag.
func NewLogger(tag string) Logger {
	return &structuredLogger{
		tag:    tag,
		writer: os.Stdout,
	}
}

// NewDiscardLogger returns a logger that drops all log entries (useful in tests).
func NewDiscardLogger() Logger {
	return discardLogger{}
}

// WalletLogger wraps a logger so every entry carries the wallet address.
// One sink, per-wallet traceability.
func WalletLogger(base Logger, wallet string) Logger {
	if base == nil {
		return discardLogger{}
	}
	return &walletLogger{base: base, wallet: wallet}
}

type structuredLogger struct {
	tag    string
	writer io.Writer
	mu     sync.Mutex
}

func (l *structuredLogger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	timestamp := time.Now().UTC().Format("2006/01/02 15:04:05.000")
	message := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s [%s] %s\n", timestamp, l.tag, message)
}

type walletLogger struct {
	base   Logger
	wallet string
}

func (l *walletLogger) Printf(format string, args ...any) {
	l.base.Printf("wallet=%s "+format, append([]any{l.wallet}, args...)...)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}
