// Command seatwatch follows the live seat map of one train and prints
// the availability counts whenever they change.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/reconcile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL  string
		trainID  uint64
		coachID  uint64
		token    string
		interval time.Duration
		logLevel string
	)
	flagSet := pflag.NewFlagSet("seatwatch", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "http://localhost:8080", "booking service base URL")
	flagSet.Uint64Var(&trainID, "train", 0, "train (event) id to watch")
	flagSet.Uint64Var(&coachID, "coach", 0, "only count seats of this coach")
	flagSet.StringVar(&token, "token", os.Getenv("SEATWATCH_TOKEN"), "bearer token sent with every request")
	flagSet.DurationVar(&interval, "poll", reconcile.DefaultPollInterval, "seat list poll interval")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if trainID == 0 {
		return errors.New("--train is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := reconcile.NewClient(reconcile.Config{
		BaseURL:      baseURL,
		TrainID:      trainID,
		Token:        token,
		PollInterval: interval,
		Log:          logger.New(logger.Config{Level: logLevel, Format: logger.TEXT, Output: os.Stderr}),
		OnChange: func(source string, m *reconcile.SeatMap) {
			c := m.Counts(coachID)
			fmt.Printf("%s seq=%d source=%s available=%d held=%d booked=%d total=%d\n",
				time.Now().Format(time.TimeOnly), m.Seq(), source, c.Available, c.Held, c.Booked, c.Total)
		},
	})
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
