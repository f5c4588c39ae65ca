package workerpool

type Config struct {
	Size      int `envconfig:"WRT_POOL_SIZE" default:"16"`
	QueueSize int `envconfig:"WRT_POOL_QUEUE_SIZE" default:"256"`
}
