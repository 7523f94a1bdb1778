package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ExplainResult is the output of the explain command.
type ExplainResult struct {
	Program string `json:"program"`
	Backend string `json:"backend"`
	Plan    string `json:"plan"`
}

func (r ExplainResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "%s on %s:\n", r.Program, r.Backend)
	_, err := fmt.Fprintln(w, strings.TrimRight(r.Plan, "\n"))
	return err
}

type explainOptions struct {
	backend string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain <program.yaml>",
		Short: "Print the native plan a backend builds for a program",
		Long: `Build a program lazily on one backend and print the native plan without
collecting it. SQL backends print the generated query and its parameters;
in-memory backends print the engine's description of the pending frame.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "backend tag (default: config default_backend)")

	return cmd
}

func runExplain(rootOpts *RootOptions, opts *explainOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, rootOpts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	prog, err := s.loadProgram(path)
	if err != nil {
		return err
	}
	tag := opts.backend
	if tag == "" {
		tag = s.cfg.DefaultBackend
	}
	if _, err := s.lookup(tag); err != nil {
		return err
	}

	lf, err := prog.Build(ctx, tag, s.frameOptions()...)
	if err != nil {
		return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
	}
	plan, err := lf.Explain(ctx)
	if err != nil {
		return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
	}
	return s.out.Success(ExplainResult{Program: prog.Name, Backend: tag, Plan: plan})
}
