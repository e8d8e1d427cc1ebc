package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/prefetch/pkg/prefetch"
)

// errFetchFailures signals a fetch that ran to completion with failures.
var errFetchFailures = errors.New("fetch completed with failures")

var fetchOpts prefetch.FetchOptions

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the blobs of a branch or commit within a scope",
	Long: `Resolves the branch (or takes the commit), makes the commit and its trees
local, diffs it against the previous shallow tip and downloads the in-scope
blobs that changed. On success the remote-tracking ref, the shallow file and
the remote's fetch refspec are updated; on failure they are left untouched
and the exit code is 1.

Scope entries are relative to the enlistment root and separated by ';'.
File entries may start with '*' to match a suffix anywhere. With no scope,
the whole tree is fetched.`,
	Example: `  prefetch fetch --branch main --folders "src/app;docs"
  prefetch fetch --commit 4b825dc642cb6eb9a060e54bf8d69288fbee4904 --files "*.props;build.sh"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (fetchOpts.Branch == "") == (fetchOpts.Commit == "") {
			return fmt.Errorf("exactly one of --branch or --commit is required")
		}

		client, err := newClient()
		if err != nil {
			return err
		}

		res, err := client.Fetch(cmd.Context(), fetchOpts)
		if err != nil {
			return err
		}

		target := res.Target
		if !res.IsBranch {
			target = shortSHA(target)
		}
		detail("matched:        %d", res.Matched)
		detail("already local:  %d", res.AlreadyLocal)
		detail("downloaded:     %d", res.Downloaded)
		detail("packs indexed:  %d", res.PacksIndexed)
		detail("duration:       %s", res.Duration.Round(time.Millisecond))

		if res.Failed {
			errorf("fetch of %s had failures; refs and shallow state were not updated", target)
			return errFetchFailures
		}

		info("Fetched %s: %d blobs in scope, %d downloaded, %d already local.",
			target, res.Matched, res.Downloaded, res.AlreadyLocal)
		return nil
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchOpts.Branch, "branch", "", "branch to fetch")
	f.StringVar(&fetchOpts.Commit, "commit", "", "commit id to fetch")
	f.StringVar(&fetchOpts.Files, "files", "", "';'-separated files to fetch")
	f.StringVar(&fetchOpts.Folders, "folders", "", "';'-separated folders to fetch")
	f.StringVar(&fetchOpts.FoldersList, "folders-list", "", "file listing one folder per line")
	f.IntVar(&fetchOpts.SearchThreads, "search-threads", 0, "blob search workers (default from config)")
	f.IntVar(&fetchOpts.DownloadThreads, "download-threads", 0, "download workers (default from config)")
	f.IntVar(&fetchOpts.IndexThreads, "index-threads", 0, "pack indexing workers (default from config)")
	f.IntVar(&fetchOpts.ChunkSize, "chunk-size", 0, "blobs per download request (default from config)")
	f.BoolVar(&fetchOpts.SkipConfigUpdate, "skip-config-update", false, "do not update refs, shallow file or refspec")
	f.StringVar(&fetchOpts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	fetchCmd.MarkFlagsMutuallyExclusive("branch", "commit")

	rootCmd.AddCommand(fetchCmd)
}
