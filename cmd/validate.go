package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/herald/internal/validator"
)

// errRejected marks a payload the validator refused; the reason is already printed.
var errRejected = errors.New("task rejected")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Run the task validator over a JSON payload",
		Long:  "Reads a task payload from a file (or stdin with -) and prints whether the agent would accept it.",
		Args:  cobra.ExactArgs(1),
		// Needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			verdict, task := validator.Validate(raw)
			out := cmd.OutOrStdout()
			if !verdict.Valid {
				fmt.Fprintf(out, "REJECTED: %s\n", verdict.Reason)
				return errRejected
			}
			fmt.Fprintln(out, "ACCEPTED")
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return raw, nil
}
