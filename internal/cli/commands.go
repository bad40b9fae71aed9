package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/loopwork-ai/saasmcp/internal/config"
)

// newToolsCommand prints the tools the server would expose.
func newToolsCommand(svc Service, f *flags, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed by this server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f, svc.PortEnv)
			if err != nil {
				return err
			}
			logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)

			server, err := svc.Build(cmd.Context(), cfg, logger, nil, info.Version)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for tool := range server.Registry().List() {
				mode := "write"
				if tool.ReadOnly {
					mode = "read"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, mode, firstLine(tool.Description))
			}
			return w.Flush()
		},
	}
}

// newConfigCommand writes a default config file.
func newConfigCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a config file with default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := args[0]
			if _, err := os.Stat(p); err == nil && !force {
				return errors.Newf("%s already exists (use --force to overwrite)", p)
			}
			if err := config.DefaultConfig().Save(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
