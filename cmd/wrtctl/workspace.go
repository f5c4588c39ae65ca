package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/lzjever/mbos-wrt/internal/core"
)

type WorkspaceListResponse struct {
	Workspaces []*core.Workspace `json:"workspaces"`
}

var (
	configFile string
	namespace  string
	attrs      map[string]string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsCreateCmd = &cobra.Command{
	Use:   "create -n <namespace> -f <config.json>",
	Short: "Create a workspace from a JSON configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var cfg core.WorkspaceConfig
		exitOnError(readJSONFile(configFile, &cfg))

		var ws core.Workspace
		exitOnError(NewClient(apiURL).Post("/v1/workspaces", map[string]interface{}{
			"namespace":  namespace,
			"config":     cfg,
			"attributes": attrs,
		}, &ws))
		fmt.Printf("Workspace %s created.\n", ws.ID)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <wsid> | get <namespace>/<name>",
	Short: "Get workspace details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "/v1/workspaces/" + url.PathEscape(args[0])
		if ns, name, ok := splitKey(args[0]); ok {
			path = "/v1/namespaces/" + url.PathEscape(ns) + "/workspaces/" + url.PathEscape(name)
		}
		var ws core.Workspace
		exitOnError(NewClient(apiURL).Get(path, &ws))
		printResult(&ws)
	},
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		path := "/v1/workspaces"
		if namespace != "" {
			path += "?namespace=" + url.QueryEscape(namespace)
		}
		var resp WorkspaceListResponse
		exitOnError(NewClient(apiURL).Get(path, &resp))
		printResult(resp.Workspaces)
	},
}

var wsUpdateCmd = &cobra.Command{
	Use:   "update <wsid> -f <config.json>",
	Short: "Replace the configuration of a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var cfg core.WorkspaceConfig
		exitOnError(readJSONFile(configFile, &cfg))

		body := map[string]interface{}{"config": cfg}
		if len(attrs) > 0 {
			body["attributes"] = attrs
		}
		var ws core.Workspace
		exitOnError(NewClient(apiURL).Put("/v1/workspaces/"+url.PathEscape(args[0]), body, &ws))
		fmt.Printf("Workspace %s updated.\n", ws.ID)
	},
}

var wsRemoveCmd = &cobra.Command{
	Use:     "remove <wsid>",
	Aliases: []string{"rm"},
	Short:   "Remove a stopped workspace and its snapshots",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(NewClient(apiURL).Delete("/v1/workspaces/"+url.PathEscape(args[0]), nil))
		fmt.Printf("Workspace %s removed.\n", args[0])
	},
}

func splitKey(key string) (string, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], i > 0 && i < len(key)-1
		}
	}
	return "", "", false
}

func init() {
	wsCreateCmd.Flags().StringVarP(&configFile, "file", "f", "", "workspace configuration (JSON)")
	wsCreateCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "owner namespace")
	wsCreateCmd.Flags().StringToStringVar(&attrs, "attr", nil, "workspace attribute key=value")
	_ = wsCreateCmd.MarkFlagRequired("file")
	_ = wsCreateCmd.MarkFlagRequired("namespace")

	wsUpdateCmd.Flags().StringVarP(&configFile, "file", "f", "", "workspace configuration (JSON)")
	wsUpdateCmd.Flags().StringToStringVar(&attrs, "attr", nil, "replace attributes with key=value pairs")
	_ = wsUpdateCmd.MarkFlagRequired("file")

	wsListCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only list workspaces of this namespace")

	workspaceCmd.AddCommand(wsCreateCmd, wsGetCmd, wsListCmd, wsUpdateCmd, wsRemoveCmd)
	rootCmd.AddCommand(workspaceCmd)
}
