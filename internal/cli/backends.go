package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Tag     string `json:"tag"`
	Family  string `json:"family"`
	Version string `json:"version"`
	Lazy    bool   `json:"lazy"`
}

// BackendsResult lists the registered backends.
type BackendsResult struct {
	Backends []BackendInfo `json:"backends"`
}

func (r BackendsResult) renderText(w io.Writer) error {
	t := &textTable{}
	t.add("TAG", "FAMILY", "VERSION", "LAZY")
	for _, b := range r.Backends {
		t.add(b.Tag, b.Family, b.Version, strconv.FormatBool(b.Lazy))
	}
	return t.write(w)
}

// NewBackendsCommand creates the backends command.
func NewBackendsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends and their installed versions",
		Long: `List the backends enabled by the configuration, with the engine family,
the installed engine version and whether the backend builds lazy plans.

PostgreSQL is listed only when a DSN is configured.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackends(rootOpts, cmd)
		},
	}
}

func runBackends(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var res BackendsResult
	for _, a := range s.set.Adapters() {
		version, err := a.InstalledVersion(ctx, nil)
		if err != nil {
			return s.out.Fail(ExitFailure, ErrCodeBackend, err, nil)
		}
		res.Backends = append(res.Backends, BackendInfo{
			Tag:     a.Tag(),
			Family:  string(a.Family()),
			Version: version,
			Lazy:    a.Capabilities().NativeLazy,
		})
	}
	return s.out.Success(res)
}
