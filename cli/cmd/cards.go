package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/impactwatch/impactwatch/cli/internal/client"
	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var (
	cardBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#30363d")).
		Padding(0, 1)
	cardTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#c9d1d9"))
	cardMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))
	cardSection = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#58a6ff")).
			MarginTop(1)
)

var cardCmd = &cobra.Command{
	Use:     "card",
	Aliases: []string{"cards"},
	Short:   "Impact Card triage",
	Long:    "List, inspect, review and archive Impact Cards",
}

var cardListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List Impact Cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		watchID, _ := cmd.Flags().GetString("watch")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		cards, err := newClient(cmd).ListCards(cmd.Context(), watchID, status, limit)
		if err != nil {
			return fmt.Errorf("failed to list cards: %w", err)
		}

		if ok, err := output.Structured(outputFormat(cmd), cards); ok {
			return err
		}

		if len(cards) == 0 {
			output.Info("No cards found")
			return nil
		}

		table := output.NewTable("ID", "Watch", "Risk", "Status", "Signals", "Title", "Updated")
		for _, c := range cards {
			table.AddRow(
				c.ID,
				c.WatchID,
				c.RiskLevel,
				c.Status,
				fmt.Sprintf("%d", len(c.CanonicalSignalIDs)),
				output.Truncate(c.Title, 48),
				c.UpdatedAt.Local().Format("2006-01-02 15:04"),
			)
		}
		table.Render()
		return nil
	},
}

var cardGetCmd = &cobra.Command{
	Use:   "get <card-id>",
	Short: "Show an Impact Card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		card, err := newClient(cmd).GetCard(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get card: %w", err)
		}
		if ok, err := output.Structured(outputFormat(cmd), card); ok {
			return err
		}
		fmt.Fprintln(output.Out, renderCard(card))
		return nil
	},
}

var cardReviewCmd = &cobra.Command{
	Use:   "review <card-id>",
	Short: "Mark a card as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		card, err := newClient(cmd).ReviewCard(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to review card: %w", err)
		}
		output.Success("Card %s reviewed", card.ID)
		return nil
	},
}

var cardArchiveCmd = &cobra.Command{
	Use:   "archive <card-id>",
	Short: "Archive a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		card, err := newClient(cmd).ArchiveCard(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to archive card: %w", err)
		}
		output.Success("Card %s archived", card.ID)
		return nil
	},
}

var deepDiveCmd = &cobra.Command{
	Use:   "deep-dive <card-id>",
	Short: "Request a deep-research report for a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		jobID, err := c.RequestDeepDive(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to request deep dive: %w", err)
		}

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			output.Success("Deep dive queued as job %s", jobID)
			output.Info("Check progress with: iwctl job %s", jobID)
			return nil
		}

		every, _ := cmd.Flags().GetDuration("interval")
		job, err := c.WaitJob(cmd.Context(), jobID, every)
		if err != nil {
			return fmt.Errorf("waiting for job %s: %w", jobID, err)
		}
		return printJob(cmd, job)
	},
}

func renderCard(c *client.Card) string {
	var b strings.Builder

	b.WriteString(cardTitle.Render(c.Title))
	b.WriteString("\n")
	b.WriteString(cardMuted.Render(fmt.Sprintf("%s · watch %s · %s", c.ID, c.WatchID, c.Status)))
	b.WriteString("\n\n")

	risk := output.RiskColor(c.RiskLevel).Sprint(c.RiskLevel)
	fmt.Fprintf(&b, "Risk:       %s (%.2f)\n", risk, c.RiskScore)
	fmt.Fprintf(&b, "Confidence: %.2f\n", c.Confidence)
	if len(c.EventTypes) > 0 {
		fmt.Fprintf(&b, "Events:     %s\n", strings.Join(c.EventTypes, ", "))
	}
	fmt.Fprintf(&b, "Signals:    %d\n", len(c.CanonicalSignalIDs))
	if c.NeedsReview {
		b.WriteString(output.RiskColor("Medium").Sprint("Needs human review") + "\n")
	}
	if c.Degraded {
		b.WriteString(cardMuted.Render("Assembled with degraded inputs") + "\n")
	}

	if len(c.Actions) > 0 {
		b.WriteString(cardSection.Render("Actions"))
		b.WriteString("\n")
		for _, a := range c.Actions {
			fmt.Fprintf(&b, "  [%s] %s: %s", a.Priority, a.Owner, a.Title)
			if a.Status != "" && a.Status != "Open" {
				fmt.Fprintf(&b, " (%s)", strings.ToLower(a.Status))
			}
			if !a.DueAt.IsZero() {
				fmt.Fprintf(&b, " %s", cardMuted.Render("due "+a.DueAt.Local().Format(time.DateTime)))
			}
			b.WriteString("\n")
		}
	}

	if len(c.Rationale) > 0 {
		b.WriteString(cardSection.Render("Rationale"))
		b.WriteString("\n")
		for _, r := range c.Rationale {
			b.WriteString("  - " + r + "\n")
		}
	}

	if len(c.RuleIDs) > 0 {
		b.WriteString("\n")
		b.WriteString(cardMuted.Render("Rules: " + strings.Join(c.RuleIDs, ", ")))
	}

	return cardBox.Render(strings.TrimRight(b.String(), "\n"))
}

func init() {
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(deepDiveCmd)
	cardCmd.AddCommand(cardListCmd, cardGetCmd, cardReviewCmd, cardArchiveCmd)

	cardListCmd.Flags().String("watch", "", "filter by watch ID")
	cardListCmd.Flags().String("status", "", "filter by status (Open, Reviewed, Archived)")
	cardListCmd.Flags().Int("limit", 50, "maximum cards to list")

	deepDiveCmd.Flags().Bool("wait", false, "poll until the report is ready")
	deepDiveCmd.Flags().Duration("interval", 2*time.Second, "poll interval with --wait")
}
