package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/sandbox"
)

var (
	sandboxDataFiles []string
	sandboxMode      string
	sandboxBinary    string
	sandboxRows      int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run analysis code locally",
}

var sandboxRunCmd = &cobra.Command{
	Use:   "run <code.go>",
	Short: "Execute an Analyze program against CSV or XLSX files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		inputs, err := loadDatasetFiles(sandboxDataFiles, sandboxRows)
		if err != nil {
			return err
		}
		runner, err := newSandboxRunner(sandboxMode, sandboxBinary)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := runner.Run(ctx, sandbox.Request{Code: string(code), Datasets: inputs})
		if err != nil {
			if errCode := sandbox.ErrorCode(err); errCode != "" {
				return fmt.Errorf("%s: %w", errCode, err)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var sandboxCheckCmd = &cobra.Command{
	Use:   "check <code.go>",
	Short: "Check a program against the import policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := sandbox.CheckSource(string(code)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	sandboxRunCmd.Flags().StringArrayVar(&sandboxDataFiles, "data", nil, "CSV or XLSX file (repeatable)")
	sandboxRunCmd.Flags().StringVar(&sandboxMode, "mode", "inprocess", "inprocess or process")
	sandboxRunCmd.Flags().StringVar(&sandboxBinary, "binary", "finsight-sandbox", "Sandbox binary for process mode")
	sandboxRunCmd.Flags().IntVar(&sandboxRows, "rows", datasets.MaxSampleRows, "Rows per dataset handed to the program")
	sandboxCmd.AddCommand(sandboxRunCmd, sandboxCheckCmd)
}

func newSandboxRunner(mode, binary string) (sandbox.Runner, error) {
	switch mode {
	case "inprocess":
		return &sandbox.InProcessRunner{Limits: sandbox.DefaultLimits()}, nil
	case "process":
		return &sandbox.ProcessRunner{Binary: binary, Limits: sandbox.DefaultLimits()}, nil
	default:
		return nil, fmt.Errorf("unknown --mode %q", mode)
	}
}

func loadDatasetFiles(paths []string, rows int) ([]sandbox.DatasetInput, error) {
	out := make([]sandbox.DatasetInput, 0, len(paths))
	for i, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		table, err := datasets.Parse(filepath.Base(path), "", raw, rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records := table.Records(rows)
		data := make([]map[string]any, 0, len(records))
		for _, r := range records {
			data = append(data, r)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out = append(out, sandbox.DatasetInput{ID: fmt.Sprintf("local-%d", i+1), Name: name, Data: data})
	}
	return out, nil
}
