package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/lzjever/mbos-wrt/internal/core"
)

type SnapshotListResponse struct {
	Snapshots []*core.Snapshot `json:"snapshots"`
}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Snapshot management commands",
}

var snapCreateCmd = &cobra.Command{
	Use:   "create <wsid>",
	Short: "Snapshot every machine of a running workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(NewClient(apiURL).Post("/v1/workspaces/"+url.PathEscape(args[0])+"/snapshots", nil, nil))
		fmt.Printf("Snapshot of workspace %s started.\n", args[0])
		fmt.Printf("Check result: wrtctl snapshot list %s\n", args[0])
	},
}

var snapListCmd = &cobra.Command{
	Use:   "list <wsid>",
	Short: "List snapshots for a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp SnapshotListResponse
		exitOnError(NewClient(apiURL).Get("/v1/workspaces/"+url.PathEscape(args[0])+"/snapshots", &resp))
		printResult(resp.Snapshots)
	},
}

var snapGetCmd = &cobra.Command{
	Use:   "get <snapshot-id>",
	Short: "Get a snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var snap core.Snapshot
		exitOnError(NewClient(apiURL).Get("/v1/snapshots/"+url.PathEscape(args[0]), &snap))
		printResult([]*core.Snapshot{&snap})
	},
}

var snapRemoveCmd = &cobra.Command{
	Use:     "remove <wsid>",
	Aliases: []string{"rm"},
	Short:   "Remove every snapshot of a workspace",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(NewClient(apiURL).Delete("/v1/workspaces/"+url.PathEscape(args[0])+"/snapshots", nil))
		fmt.Printf("Snapshots of workspace %s removed.\n", args[0])
	},
}

func init() {
	snapshotCmd.AddCommand(snapCreateCmd, snapListCmd, snapGetCmd, snapRemoveCmd)
	rootCmd.AddCommand(snapshotCmd)
}
