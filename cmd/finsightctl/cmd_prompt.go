package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"finsight-backend/internal/prompts"
)

var (
	submitDatasets   []string
	submitViz        string
	submitNoInsights bool
	executeOptions   string
	waitInterval     time.Duration
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Submit and inspect analysis prompts",
}

var promptSubmitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit a prompt for code generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		include := !submitNoInsights
		body := map[string]any{
			"prompt":     args[0],
			"datasetIds": submitDatasets,
			"settings": prompts.SettingsInput{
				VisualizationType: submitViz,
				IncludeInsights:   &include,
			},
		}
		var out map[string]any
		if err := newAPIClient().do(ctx, http.MethodPost, "/prompts", body, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var promptGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out map[string]any
		if err := newAPIClient().do(ctx, http.MethodGet, "/prompts/"+args[0], nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var promptExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Run the generated code of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var body any
		if executeOptions != "" {
			opts := map[string]any{}
			if err := json.Unmarshal([]byte(executeOptions), &opts); err != nil {
				return fmt.Errorf("--options must be a JSON object: %w", err)
			}
			body = map[string]any{"options": opts}
		}
		var out map[string]any
		if err := newAPIClient().do(ctx, http.MethodPost, "/prompts/"+args[0]+"/execute", body, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var promptResultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show the visualizations and insights of a completed prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out map[string]any
		if err := newAPIClient().do(ctx, http.MethodGet, "/prompts/"+args[0]+"/results", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var promptCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a prompt that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out map[string]any
		if err := newAPIClient().do(ctx, http.MethodPost, "/prompts/"+args[0]+"/cancel", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var promptWaitCmd = &cobra.Command{
	Use:   "wait <id> <status>",
	Short: "Poll until a prompt reaches status or fails",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		p, err := waitForStatus(ctx, newAPIClient(), args[0], args[1], waitInterval)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	promptSubmitCmd.Flags().StringSliceVar(&submitDatasets, "dataset", nil, "Dataset id (repeatable)")
	promptSubmitCmd.Flags().StringVar(&submitViz, "viz", "", "Preferred visualization type")
	promptSubmitCmd.Flags().BoolVar(&submitNoInsights, "no-insights", false, "Skip LLM insight fallback")
	promptExecuteCmd.Flags().StringVar(&executeOptions, "options", "", "Execution options as a JSON object")
	promptWaitCmd.Flags().DurationVar(&waitInterval, "interval", time.Second, "Polling interval")

	promptCmd.AddCommand(promptSubmitCmd, promptGetCmd, promptExecuteCmd, promptResultsCmd, promptCancelCmd, promptWaitCmd)
}

// waitForStatus polls the prompt until it reaches want. A failed prompt
// ends the wait with its error.
func waitForStatus(ctx context.Context, c *apiClient, id, want string, interval time.Duration) (prompts.Prompt, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var p prompts.Prompt
		if err := c.do(ctx, http.MethodGet, "/prompts/"+id, nil, &p); err != nil {
			return prompts.Prompt{}, err
		}
		if p.Status == want {
			return p, nil
		}
		if p.Status == prompts.StatusFailed {
			if p.Error != nil {
				return p, fmt.Errorf("prompt failed at %s: %s (%s)", p.Error.Stage, p.Error.Message, p.Error.Code)
			}
			return p, errors.New("prompt failed")
		}
		if prompts.IsTerminal(p.Status) {
			return p, fmt.Errorf("prompt ended as %s", p.Status)
		}
		select {
		case <-ctx.Done():
			return p, fmt.Errorf("waiting for %s (last %s): %w", want, p.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
