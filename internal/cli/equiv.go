package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/internal/equiv"
)

// Equivalence statuses.
const (
	StatusReference = "reference"
	StatusEqual     = "equal"
	StatusDiffers   = "differs"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// BackendCheck is the outcome of one backend in an equivalence run.
type BackendCheck struct {
	Backend    string           `json:"backend"`
	Status     string           `json:"status"`
	Rows       int              `json:"rows"`
	Error      string           `json:"error,omitempty"`
	Mismatches []equiv.Mismatch `json:"mismatches,omitempty"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// EquivResult is the output of the equiv command.
type EquivResult struct {
	Program   string         `json:"program"`
	Reference string         `json:"reference"`
	Equal     bool           `json:"equal"`
	Backends  []BackendCheck `json:"backends"`
}

func (r EquivResult) renderText(w io.Writer) error {
	rows := 0
	if len(r.Backends) > 0 {
		rows = r.Backends[0].Rows
	}
	fmt.Fprintf(w, "%s: reference %s (%d rows)\n", r.Program, r.Reference, rows)
	t := &textTable{}
	t.add("BACKEND", "STATUS", "ROWS")
	for _, b := range r.Backends {
		t.add(b.Backend, b.Status, fmt.Sprint(b.Rows))
	}
	if err := t.write(w); err != nil {
		return err
	}
	for _, b := range r.Backends {
		if b.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", b.Backend, b.Error)
		}
		for _, m := range b.Mismatches {
			fmt.Fprintf(w, "%s: %s\n", b.Backend, m)
		}
		if b.Truncated {
			fmt.Fprintf(w, "%s: ...\n", b.Backend)
		}
	}
	return nil
}

type equivOptions struct {
	backends []string
}

// NewEquivCommand creates the equiv command.
func NewEquivCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &equivOptions{}

	cmd := &cobra.Command{
		Use:   "equiv <program.yaml>",
		Short: "Run a program on several backends and compare the results",
		Long: `Run a program on several backends and check that every result matches the
first backend's result.

Floating point columns are compared within the configured tolerances, chosen
by the aggregation that produced the column. A backend that does not support
the program at its installed version is reported as skipped.

Exit codes:
  0 - All backends agree
  1 - A backend failed or disagrees with the reference
  2 - Command error (unreadable program or config, unknown backend)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEquiv(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.backends, "backends", nil, "backend tags to compare; the first is the reference (default: all registered)")

	return cmd
}

func runEquiv(rootOpts *RootOptions, opts *equivOptions, path string, cmd *cobra.Command) error {
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
	tags := opts.backends
	if len(tags) == 0 {
		tags = s.set.Tags()
	}
	if len(tags) < 2 {
		return s.out.Fail(ExitCommandError, ErrCodeBackend, fmt.Errorf("equiv needs at least two backends, got %s", strings.Join(tags, ", ")), nil)
	}
	adapters := make([]backend.Adapter, len(tags))
	for i, tag := range tags {
		if adapters[i], err = s.lookup(tag); err != nil {
			return err
		}
	}

	cmpOpts := equiv.Options{
		Tolerances: s.cfg.ToleranceTable(),
		Kinds:      prog.Kinds(),
		Unordered:  prog.Unordered,
	}
	out := EquivResult{Program: prog.Name, Reference: tags[0], Equal: true}

	ref, err := s.runProgram(ctx, prog, adapters[0])
	if err != nil {
		return s.out.Fail(ExitFailure, ErrCodeBackend, fmt.Errorf("reference %s: %w", tags[0], err), nil)
	}
	out.Backends = append(out.Backends, BackendCheck{Backend: tags[0], Status: StatusReference, Rows: ref.height()})

	for i, tag := range tags[1:] {
		check := BackendCheck{Backend: tag}
		got, err := s.runProgram(ctx, prog, adapters[i+1])
		switch {
		case dferr.IsUnsupported(err):
			check.Status = StatusSkipped
			check.Error = err.Error()
		case err != nil:
			check.Status = StatusFailed
			check.Error = fmt.Sprintf("[%s] %v", dferr.CodeOf(err), err)
			out.Equal = false
		default:
			report := equiv.Compare(ref.cols, got.cols, cmpOpts)
			check.Rows = got.height()
			check.Status = StatusEqual
			if !report.Equal {
				check.Status = StatusDiffers
				check.Mismatches = report.Mismatches
				check.Truncated = report.Truncated
				out.Equal = false
			}
		}
		s.logger.Debug("backend compared", "program", prog.Name, "backend", tag, "status", check.Status)
		out.Backends = append(out.Backends, check)
	}

	if !out.Equal {
		_ = s.out.Error(ErrCodeEquiv, fmt.Sprintf("%s: backends disagree with %s", prog.Name, tags[0]), out)
		return NewExitError(ExitFailure, ErrCodeEquiv)
	}
	return s.out.Success(out)
}
