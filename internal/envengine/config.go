package envengine

import "time"

type Config struct {
	StartDelay       time.Duration `envconfig:"WRT_ENGINE_START_DELAY" default:"0s"`
	SnapshotRegistry string        `envconfig:"WRT_ENGINE_SNAPSHOT_REGISTRY" default:"localhost:5000/wrt"`
	FirstHostPort    int           `envconfig:"WRT_ENGINE_FIRST_HOST_PORT" default:"32768"`
}
