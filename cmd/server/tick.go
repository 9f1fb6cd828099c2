package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"permwatch/pkg/requestcontext"
)

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one poll and one renewal pass, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return tick(ctx)
		},
	}
}

func tick(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var errs []error
	if err := a.poller.Tick(requestcontext.WithRequestID(ctx, "cli-poll")); err != nil {
		errs = append(errs, fmt.Errorf("poll: %w", err))
	}
	if err := a.scheduler.Tick(requestcontext.WithRequestID(ctx, "cli-renewal")); err != nil {
		errs = append(errs, fmt.Errorf("renewal: %w", err))
	}
	a.events.RefreshStats(ctx)
	a.logger.Info("tick complete", "watermark", a.poller.Watermark())
	return errors.Join(errs...)
}
