package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"WRT_HTTP_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr     string        `envconfig:"WRT_METRICS_ADDR" default:"0.0.0.0:9090"`
	GRPCAddr        string        `envconfig:"WRT_GRPC_ADDR" default:"0.0.0.0:7070"`
	LogLevel        string        `envconfig:"WRT_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"WRT_SHUTDOWN_TIMEOUT" default:"60s"`
}
