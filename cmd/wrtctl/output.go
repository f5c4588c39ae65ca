package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/lzjever/mbos-wrt/internal/core"
)

func printResult(v interface{}) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []*core.Workspace:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tNAMESPACE\tNAME\tSTATUS\tTEMPORARY")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", ws.ID, ws.Namespace, ws.Config.Name, ws.Status, ws.Temporary)
		}
	case *core.Workspace:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Namespace:\t%s\n", data.Namespace)
		fmt.Fprintf(w, "Name:\t%s\n", data.Config.Name)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Default env:\t%s\n", data.Config.DefaultEnv)
		if data.Runtime != nil {
			fmt.Fprintf(w, "Active env:\t%s\n", data.Runtime.ActiveEnv)
			for _, m := range data.Runtime.Machines {
				fmt.Fprintf(w, "Machine:\t%s (%s)%s\n", m.Name, m.ID, devMark(m))
				if m.Runtime != nil {
					for _, port := range sortedKeys(m.Runtime.Servers) {
						srv := m.Runtime.Servers[port]
						fmt.Fprintf(w, "  %s:\t%s %s\n", srv.Ref, srv.Address, srv.URL)
					}
				}
			}
		}
	case []*core.Snapshot:
		if len(data) == 0 {
			fmt.Println("No snapshots found.")
			return
		}
		fmt.Fprintln(w, "SNAPSHOT ID\tENV\tMACHINE\tDEV\tCREATED")
		for _, s := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", s.ID, s.EnvName, s.MachineName, s.Dev, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	case *core.Machine:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Name:\t%s%s\n", data.Name, devMark(data))
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Source:\t%s %s\n", data.Config.Source.Type, truncate(data.Config.Source.Location, 60))
	case []string:
		if len(data) == 0 {
			fmt.Println("No running workspaces.")
			return
		}
		for _, s := range data {
			fmt.Fprintln(w, s)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func devMark(m *core.Machine) string {
	if m.Config.Dev {
		return " [dev]"
	}
	return ""
}

func sortedKeys(m map[string]core.Server) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
