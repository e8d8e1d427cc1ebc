package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the enlistment's fetch state",
	Long: `Shows the enlistment root, git dir, remote and objects endpoint, the fetch
refspec, the last shallow tip and any staged packs left by a failed index.
With --verbose the whole shallow history is printed, oldest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		st, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("enlistment:     %s\n", st.Root)
		fmt.Printf("  git dir:      %s\n", st.GitDir)
		fmt.Printf("  remote:       %s (%s)\n", st.RemoteName, st.RepoURL)
		fmt.Printf("  objects:      %s\n", st.ObjectsURL)
		for _, spec := range st.RefSpecs {
			fmt.Printf("  refspec:      %s\n", spec)
		}

		switch {
		case !st.ShallowExists:
			fmt.Println("  shallow tip:  (never fetched)")
		case st.Tip == "":
			fmt.Printf("  shallow tip:  (blank %s, fetch will refuse to run)\n", st.ShallowPath)
		default:
			fmt.Printf("  shallow tip:  %s (%d recorded)\n", st.Tip, len(st.ShallowHistory))
		}
		for _, sha := range st.ShallowHistory {
			detail("  %s", sha)
		}

		detail("staging dir:  %s", st.StagingDir)
		if len(st.StagedPacks) > 0 {
			fmt.Printf("  staged packs: %d (%s)\n", len(st.StagedPacks), humanSize(st.StagingBytes))
			for _, p := range st.StagedPacks {
				detail("  %s", p)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
