package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/config"
	"github.com/headline-goat/verdict/internal/notify"
	"github.com/headline-goat/verdict/internal/scheduler"
)

var riskChoices = []string{
	"medium - balanced rollouts (default)",
	"low - slower, staged rollouts",
	"high - faster rollouts",
}

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var (
		output        string
		risk          string
		checkInterval time.Duration
		channels      string
		nonInteract   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a verdict config file with scheduler, criteria and notification
settings. Values not given as flags are asked for interactively unless
--defaults is set.

Examples:
  verdict init
  verdict init --defaults --risk-tolerance low --output /etc/verdict.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := *cfg
			flags := cmd.Flags()

			if flags.Changed("risk-tolerance") {
				out.Scheduler.DefaultCriteria.RiskTolerance = risk
			} else if !nonInteract {
				picked, err := promptRiskTolerance()
				if err != nil {
					return err
				}
				out.Scheduler.DefaultCriteria.RiskTolerance = picked
			}

			if flags.Changed("check-interval") {
				out.Scheduler.CheckInterval = checkInterval
			} else if !nonInteract {
				interval, err := promptInterval(out.Scheduler.CheckInterval)
				if err != nil {
					return err
				}
				out.Scheduler.CheckInterval = interval
			}

			if flags.Changed("notify") {
				out.Notifications.Channels = splitList(channels)
				out.Notifications.Enabled = len(out.Notifications.Channels) > 0
			}

			if err := out.Validate(); err != nil {
				return err
			}
			if err := config.WriteFile(output, &out); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Wrote %s\n", output)
			fmt.Fprintf(w, "  check interval: %s\n", out.Scheduler.CheckInterval)
			fmt.Fprintf(w, "  risk tolerance: %s\n", out.Scheduler.DefaultCriteria.RiskTolerance)
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Start the server with:\n  verdict serve --config %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "verdict.yaml", "config file to write")
	cmd.Flags().StringVar(&risk, "risk-tolerance", "", "risk tolerance (low, medium, high)")
	cmd.Flags().DurationVar(&checkInterval, "check-interval", scheduler.DefaultConfig().CheckInterval, "time between scheduler cycles")
	cmd.Flags().StringVar(&channels, "notify", notify.ChannelLog, "comma-separated notification channels")
	cmd.Flags().BoolVar(&nonInteract, "defaults", false, "do not prompt; use defaults for unset values")

	return cmd
}

func promptRiskTolerance() (string, error) {
	prompt := promptui.Select{
		Label: "Risk tolerance",
		Items: riskChoices,
		Size:  len(riskChoices),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return "", fmt.Errorf("aborted")
		}
		return "", err
	}

	switch idx {
	case 1:
		return "low", nil
	case 2:
		return "high", nil
	default:
		return "medium", nil
	}
}

func promptInterval(current time.Duration) (time.Duration, error) {
	prompt := promptui.Prompt{
		Label:   "Check interval in minutes",
		Default: strconv.Itoa(int(current / time.Minute)),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return fmt.Errorf("enter a whole number of minutes, at least 1")
			}
			return nil
		},
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return 0, fmt.Errorf("aborted")
		}
		return 0, err
	}
	n, _ := strconv.Atoi(result)
	return time.Duration(n) * time.Minute, nil
}
