package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/chunklog"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/render"
)

var (
	instructionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(0, 1)

	activityStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			PaddingLeft(2)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			PaddingLeft(2)

	replyStyle = lipgloss.NewStyle().
			Padding(0, 1).
			MarginTop(1)

	successStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failureStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	cancelledStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow an edit session from the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		baseURL, _ := cmd.Flags().GetString("server")
		userID, _ := cmd.Flags().GetInt32("user")
		heartbeat, _ := cmd.Flags().GetDuration("heartbeat")

		// The follower keeps the session's conversation alive while it watches.
		follower := &render.Follower{BaseURL: baseURL, UserID: userID, HeartbeatInterval: heartbeat}
		out := cmd.OutOrStdout()
		printer := &statePrinter{out: out}
		r, err := follower.Resume(cmd.Context(), int32(sessionID), printer.print)
		if err != nil {
			return err
		}

		state := r.State()
		if state.Reply != "" {
			fmt.Fprintln(out, replyStyle.Render(strings.TrimSpace(state.Reply)))
		}
		fmt.Fprintln(out, outcomeLine(&state))
		return nil
	},
}

func init() {
	watchCmd.Flags().String("server", "http://localhost:8081", "base URL of the sitebuilder server")
	watchCmd.Flags().Int32("user", 1, "user id sent as X-User-ID")
	watchCmd.Flags().Duration("heartbeat", render.DefaultHeartbeatInterval, "interval between conversation heartbeats")
}

// statePrinter prints the parts of the state that changed since the last update.
type statePrinter struct {
	out        io.Writer
	started    bool
	activities int
	progress   string
}

func (p *statePrinter) print(state render.State) {
	if !p.started {
		fmt.Fprintln(p.out, instructionStyle.Render("> "+state.Instruction))
		p.started = true
	}
	for _, activity := range state.Activities[p.activities:] {
		if line := activityLine(activity); line != "" {
			fmt.Fprintln(p.out, activityStyle.Render(line))
		}
	}
	p.activities = len(state.Activities)
	if state.Progress != "" && state.Progress != p.progress {
		fmt.Fprintln(p.out, progressStyle.Render(state.Progress))
	}
	p.progress = state.Progress
}

func activityLine(a render.Activity) string {
	switch a.Kind {
	case chunklog.EventKindToolCalling:
		inputs := make([]string, 0, len(a.ToolInputs))
		for _, in := range a.ToolInputs {
			inputs = append(inputs, in.Key+"="+in.Value)
		}
		return fmt.Sprintf("→ %s(%s)", a.ToolName, strings.Join(inputs, ", "))
	case chunklog.EventKindAgentError:
		return "✗ " + a.ErrorMessage
	default:
		return ""
	}
}

func outcomeLine(state *render.State) string {
	switch {
	case !state.Done():
		return ""
	case state.Outcome.Success:
		return successStyle.Render("✓ completed")
	case state.Outcome.Cancelled():
		return cancelledStyle.Render("■ " + state.Outcome.ErrorMessage)
	default:
		return failureStyle.Render("✗ " + state.Outcome.ErrorMessage)
	}
}
