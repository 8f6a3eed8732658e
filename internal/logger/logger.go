// Package logger wraps log/slog for the booking service.  Every line
// carries the service name; request paths scope their loggers to the
// booking, train or payment order they work on so one booking can be
// followed through the logs with a single filter.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Levels and formats accepted in configuration.
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	JSON  = "json"
	TEXT  = "text"
)

// Attribute keys shared by every package.
const (
	SERVICE   = "service"
	BookingID = "booking_id"
	TrainID   = "train_id"
	OrderID   = "order_id"
	PaymentID = "payment_id"
	PNR       = "pnr"
)

// redacted lists attribute keys whose values never reach the output.
var redacted = map[string]bool{
	"signature":      true,
	"customer_email": true,
	"customer_phone": true,
	"id_proof":       true,
}

type Logger struct {
	*slog.Logger
}

type Config struct {
	Level     string
	Format    string
	Output    io.Writer
	AddSource bool
	Service   string
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, TEXT) {
		h = slog.NewTextHandler(cfg.Output, opts)
	} else {
		h = slog.NewJSONHandler(cfg.Output, opts)
	}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String(SERVICE, cfg.Service)})
	}
	return &Logger{Logger: slog.New(h)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ForBooking scopes l to one booking session.
func (l *Logger) ForBooking(id uint64) *Logger {
	return l.With(BookingID, id)
}

// ForTrain scopes l to one train's inventory.
func (l *Logger) ForTrain(id uint64) *Logger {
	return l.With(TrainID, id)
}

// ForPayment scopes l to one gateway callback.
func (l *Logger) ForPayment(bookingID uint64, orderID, paymentID string) *Logger {
	return l.With(BookingID, bookingID, OrderID, orderID, PaymentID, paymentID)
}

// Fatal logs at error level and exits with status 1.  Only main calls it.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redacted[a.Key] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
