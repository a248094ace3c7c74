package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the PDF index:
  - Lifecycle state and backend
  - Number of indexed documents and pages
  - Index size and location
  - Time of the last complete build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg, openOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	info := statusInfo(st)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func statusInfo(st *index.Status) ui.StatusInfo {
	info := ui.StatusInfo{
		State:       string(st.State),
		Backend:     string(st.Backend),
		Dir:         st.Dir,
		Documents:   st.Documents,
		Pages:       st.Pages,
		SizeBytes:   st.SizeBytes,
		Built:       st.Built,
		LastIndexed: st.LastIndexed,
		LastError:   st.LastError,
	}
	if st.LastReport != nil {
		stats := completionStats(st.LastReport, string(st.Backend))
		info.LastRun = &stats
	}
	if info.Backend == "" {
		info.Backend = string(store.BackendSQLite)
	}
	return info
}
