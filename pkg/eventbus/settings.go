package eventbus

// Settings selects the transport. With Redis disabled the bus is in-memory and only reaches
// subscribers in the same process.
type Settings struct {
	RedisEnabled  bool   `mapstructure:"redis-enabled"`
	RedisAddr     string `mapstructure:"redis-addr"`
	RedisGroup    string `mapstructure:"redis-group"`
	RedisConsumer string `mapstructure:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		RedisAddr:     "localhost:6379",
		RedisGroup:    "convocore",
		RedisConsumer: "convocore-1",
	}
}
