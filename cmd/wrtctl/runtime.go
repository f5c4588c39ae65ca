package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lzjever/mbos-wrt/internal/core"
)

var (
	envName        string
	recoverFlag    string
	createSnapshot string
	machineFile    string
)

// triState maps "", "true" and "false" onto an optional bool.
func triState(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("expected true or false, got %q", raw)
	}
	return &v, nil
}

var startCmd = &cobra.Command{
	Use:   "start <wsid>",
	Short: "Start a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		restore, err := triState(recoverFlag)
		exitOnError(err)

		var ws core.Workspace
		exitOnError(NewClient(apiURL).Post("/v1/workspaces/"+url.PathEscape(args[0])+"/runtime", map[string]interface{}{
			"env":     envName,
			"recover": restore,
		}, &ws))
		fmt.Printf("Workspace %s is %s.\n", ws.ID, ws.Status)
	},
}

var startTemporaryCmd = &cobra.Command{
	Use:   "start-temporary -n <namespace> -f <config.json>",
	Short: "Create and start a workspace that is removed when it stops",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		restore, err := triState(recoverFlag)
		exitOnError(err)
		var cfg core.WorkspaceConfig
		exitOnError(readJSONFile(configFile, &cfg))

		var ws core.Workspace
		exitOnError(NewClient(apiURL).Post("/v1/workspaces:temporary", map[string]interface{}{
			"namespace": namespace,
			"config":    cfg,
			"recover":   restore,
		}, &ws))
		fmt.Printf("Temporary workspace %s is %s.\n", ws.ID, ws.Status)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <wsid>",
	Short: "Stop a running workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "/v1/workspaces/" + url.PathEscape(args[0]) + "/runtime"
		if createSnapshot != "" {
			if _, err := triState(createSnapshot); err != nil {
				exitOnError(err)
			}
			path += "?create-snapshot=" + createSnapshot
		}
		exitOnError(NewClient(apiURL).Delete(path, nil))
		fmt.Printf("Workspace %s is stopping.\n", args[0])
	},
}

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List the ids of workspaces with a runtime",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			IDs []string `json:"workspace_ids"`
		}
		exitOnError(NewClient(apiURL).Get("/v1/runtimes", &resp))
		printResult(resp.IDs)
	},
}

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Machine commands for running workspaces",
}

var machineStartCmd = &cobra.Command{
	Use:   "start <wsid> <name> -f <machine.json>",
	Short: "Start an additional non-dev machine",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var cfg core.MachineConfig
		exitOnError(readJSONFile(machineFile, &cfg))

		var m core.Machine
		exitOnError(NewClient(apiURL).Post("/v1/workspaces/"+url.PathEscape(args[0])+"/machines", map[string]interface{}{
			"name":   args[1],
			"config": cfg,
		}, &m))
		printResult(&m)
	},
}

var machineGetCmd = &cobra.Command{
	Use:   "get <wsid> <machine-id>",
	Short: "Get a machine of a running workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var m core.Machine
		exitOnError(NewClient(apiURL).Get("/v1/workspaces/"+url.PathEscape(args[0])+"/machines/"+url.PathEscape(args[1]), &m))
		printResult(&m)
	},
}

var machineStopCmd = &cobra.Command{
	Use:   "stop <wsid> <machine-id>",
	Short: "Stop a non-dev machine",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(NewClient(apiURL).Delete("/v1/workspaces/"+url.PathEscape(args[0])+"/machines/"+url.PathEscape(args[1]), nil))
		fmt.Printf("Machine %s stopped.\n", args[1])
	},
}

func init() {
	startCmd.Flags().StringVarP(&envName, "env", "e", "", "environment to start (default environment when empty)")
	startCmd.Flags().StringVar(&recoverFlag, "recover", "", "restore from snapshots: true, false, or empty for the workspace setting")

	startTemporaryCmd.Flags().StringVarP(&configFile, "file", "f", "", "workspace configuration (JSON)")
	startTemporaryCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "owner namespace")
	startTemporaryCmd.Flags().StringVar(&recoverFlag, "recover", "", "restore from snapshots: true, false, or empty")
	_ = startTemporaryCmd.MarkFlagRequired("file")
	_ = startTemporaryCmd.MarkFlagRequired("namespace")

	stopCmd.Flags().StringVar(&createSnapshot, "create-snapshot", "", "snapshot before stopping: true, false, or empty for the workspace setting")

	machineStartCmd.Flags().StringVarP(&machineFile, "file", "f", "", "machine configuration (JSON)")
	_ = machineStartCmd.MarkFlagRequired("file")
	machineCmd.AddCommand(machineStartCmd, machineGetCmd, machineStopCmd)

	rootCmd.AddCommand(startCmd, startTemporaryCmd, stopCmd, runtimesCmd, machineCmd)
}
