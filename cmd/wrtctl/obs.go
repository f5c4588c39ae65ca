package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Observability commands (query a Prometheus-compatible API)",
}

var promURL string

type PromResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

type namedQuery struct {
	name  string
	query string
}

var obsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show runtime summary metrics",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries([]namedQuery{
			{"Active Runtimes", `wrt_active_runtimes`},
			{"Task Success Rate", `sum(rate(wrt_task_total{status="succeeded"}[5m])) / sum(rate(wrt_task_total[5m])) * 100`},
			{"Queue Depth", `wrt_task_queue_depth`},
			{"HTTP Request Rate", `sum(rate(wrt_http_requests_total[5m]))`},
		})
	},
}

var obsLifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Show workspace lifecycle metrics",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries([]namedQuery{
			{"Start Rate", `sum(rate(wrt_workspace_state_transitions_total{from="STOPPED",to="STARTING"}[5m]))`},
			{"Start Failure Rate", `sum(rate(wrt_workspace_state_transitions_total{from="STARTING",to="STOPPED"}[5m]))`},
			{"Snapshot Error Rate", `sum(rate(wrt_snapshot_total{result="error"}[5m]))`},
			{"Engine Start P95", `histogram_quantile(0.95, sum(rate(wrt_engine_call_duration_seconds_bucket{op="start"}[5m])) by (le))`},
		})
	},
}

var obsLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Show latency metrics",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries([]namedQuery{
			{"HTTP P50", `histogram_quantile(0.5, sum(rate(wrt_http_request_duration_seconds_bucket[5m])) by (le))`},
			{"HTTP P95", `histogram_quantile(0.95, sum(rate(wrt_http_request_duration_seconds_bucket[5m])) by (le))`},
			{"Task P95", `histogram_quantile(0.95, sum(rate(wrt_task_duration_seconds_bucket[5m])) by (le))`},
		})
	},
}

func runQueries(queries []namedQuery) {
	for _, q := range queries {
		fmt.Printf("%s: %s\n", q.name, queryProm(promURL, q.query))
	}
}

func queryProm(baseURL, query string) string {
	resp, err := http.Get(baseURL + "/api/v1/query?query=" + url.QueryEscape(query))
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()

	var promResp PromResponse
	if err := json.NewDecoder(resp.Body).Decode(&promResp); err != nil {
		return "parse error"
	}

	if len(promResp.Data.Result) == 0 {
		return "no data"
	}

	result := promResp.Data.Result[0]
	if len(result.Value) >= 2 {
		return fmt.Sprintf("%v", result.Value[1])
	}
	return "no value"
}

func init() {
	obsCmd.PersistentFlags().StringVar(&promURL, "prom-url", "http://localhost:8428", "Prometheus or VictoriaMetrics URL")
	obsCmd.AddCommand(obsSummaryCmd, obsLifecycleCmd, obsLatencyCmd)
	rootCmd.AddCommand(obsCmd)
}
