package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
)

// CompatEntry is the resolved strategy of one feature.
type CompatEntry struct {
	Feature  string `json:"feature"`
	Strategy string `json:"strategy"`
}

// CompatResult is the output of the compat command.
type CompatResult struct {
	Backend  string        `json:"backend"`
	Version  string        `json:"version"`
	Features []CompatEntry `json:"features"`
}

func (r CompatResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "backend: %s\n", r.Backend)
	fmt.Fprintf(w, "version: %s\n", r.Version)
	t := &textTable{}
	t.add("FEATURE", "STRATEGY")
	for _, e := range r.Features {
		t.add(e.Feature, e.Strategy)
	}
	return t.write(w)
}

type compatOptions struct {
	version string
}

// NewCompatCommand creates the compat command.
func NewCompatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &compatOptions{}

	cmd := &cobra.Command{
		Use:   "compat <backend> [feature...]",
		Short: "Show how a backend lowers each feature at a version",
		Long: `Resolve the compatibility table for a backend.

Without --version the installed version of the registered backend is used.
With --version any backend in the table can be queried, registered or not.
Without features every feature recorded for the backend is listed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompat(rootOpts, opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.version, "version", "", "engine version to resolve (default: installed version)")

	return cmd
}

func runCompat(rootOpts *RootOptions, opts *compatOptions, tag string, features []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, rootOpts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	table, err := compat.Default()
	if err != nil {
		return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
	}

	if !slices.Contains(table.Backends(), tag) {
		return s.out.Fail(ExitCommandError, ErrCodeBackend, dferr.Unrecognized("no compatibility rules for backend %q", tag), nil)
	}

	version := opts.version
	if version == "" {
		a, err := s.lookup(tag)
		if err != nil {
			return err
		}
		if version, err = a.InstalledVersion(ctx, nil); err != nil {
			return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
		}
	}
	if len(features) == 0 {
		features = table.Features(tag)
	}

	res := CompatResult{Backend: tag, Version: version}
	for _, f := range features {
		strategy, err := table.Resolve(tag, f, version)
		if err != nil {
			return s.out.Fail(ExitCommandError, ErrCodeBackend, err, nil)
		}
		res.Features = append(res.Features, CompatEntry{Feature: f, Strategy: string(strategy)})
	}
	s.logger.Debug("compat resolved", "backend", tag, "version", version, "features", len(res.Features))
	return s.out.Success(res)
}
