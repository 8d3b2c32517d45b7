package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trinidad/trinidad/pkg/container"
	"github.com/trinidad/trinidad/pkg/host"
	"github.com/trinidad/trinidad/pkg/lifecycle"
)

var scanCmd = &cobra.Command{
	Use:   "scan MODULE_DIR",
	Short: "List the archives a module would have scanned",
	Long: `Start a module's lifecycle without running it and print the units
discovered on its classpath, then stop it again.

Example:
  trinidad scan modules/orders
  trinidad scan modules/orders --full`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("full", false, "Scan ancestor boundaries too, not only the module's own classpath")
	viper.BindPFlag("scan.full", scanCmd.Flags().Lookup("full"))
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := host.LoadManifest(filepath.Join(args[0], host.ManifestFile))
	if err != nil {
		return err
	}
	classpath, err := m.DeclaredClasspath()
	if err != nil {
		return err
	}

	lc := cfg.Lifecycle()
	if viper.GetBool("scan.full") {
		lc.FastPathOnly = false
	}

	ctx := cmd.Context()
	module := container.New(m.Name, m.RootPath(), classpath, logger)
	ctrl, err := lifecycle.New(module, nil, lifecycle.WithLogger(logger), lifecycle.WithConfig(lc))
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tOWNED\tLOCATOR")
	for _, u := range ctrl.Units() {
		fmt.Fprintf(w, "%s\t%t\t%s\n", u.Kind, u.Owned, u.Locator)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err = ctrl.Stop(ctx)
	return err
}
