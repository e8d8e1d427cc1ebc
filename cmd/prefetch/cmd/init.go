package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bianoble/prefetch/internal/config"
)

var (
	initForce bool
	initUser  bool
)

// initTemplate is the default prefetch.yaml scaffold.
const initTemplate = `# prefetch configuration
version: 1

enlistment:
  root: .                   # working directory root; scope entries are relative to it
  # git_dir: .git           # default <root>/.git

remote:
  name: origin
  url: https://example.com/your-org/your-repo.git
  # objects_url: https://example.com/your-org/your-repo.git/gvfs

fetch:
  search_threads: 0         # 0 = one per CPU
  download_threads: 0       # 0 = one per CPU
  index_threads: 0          # 0 = one per CPU
  chunk_size: 4000          # blobs per download request
  queue_depth: 4096
  max_retries: 5
  requests_per_second: 0    # 0 = unlimited
  skip_config_update: false
  lock_timeout: 5s

logging:
  level: info               # debug, info, warn, error
  format: text              # text, json

# metrics:
#   textfile: /var/lib/node_exporter/prefetch.prom
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter prefetch.yaml configuration",
	Long: `Creates a prefetch.yaml file in the current directory (or at --config) with
every setting and its default value. With --user the file is written to the
user config directory instead, where it applies to every enlistment without
a project file.

Use --force to overwrite an existing configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		switch {
		case initUser:
			p, err := config.UserConfigPath()
			if err != nil {
				return fmt.Errorf("resolving user config path: %w", err)
			}
			outPath = p
		case outPath == "":
			outPath = config.FileName
		}
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		info("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Set remote.url to your repository")
		info("  2. Run 'prefetch fetch --branch main --folders <dirs>'")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	initCmd.Flags().BoolVar(&initUser, "user", false, "write the user-level config file")
	rootCmd.AddCommand(initCmd)
}
