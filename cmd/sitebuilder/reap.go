package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/conversation"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Release stale conversations once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		setupLogger(p)

		ctx := cmd.Context()
		s, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer s.Close()

		c := clock.New()
		// The stored cancel flag is what a serving process observes.
		coordinator := session.NewCoordinator(s, session.NewStateMachine(s, c), c)
		reaper := conversation.NewReaper(s, c, conversation.ReaperConfig{
			Timeout:       p.ConversationTimeout,
			SweepInterval: p.ReaperInterval,
			CancelOrphans: p.CancelOrphanedSessions,
		}, coordinator)

		released, err := reaper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "released %d workspace(s)\n", len(released))
		for _, id := range released {
			fmt.Fprintf(cmd.OutOrStdout(), "  workspace %d\n", id)
		}
		return nil
	},
}
