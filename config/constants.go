package config

const (
	DefaultRPCListenAddr       = ":8899"
	DefaultAPIListenAddr       = ":8080"
	DefaultStoreDirectory      = "./data"
	DefaultExecutorWorkers     = 16
	DefaultMaxTxAgeSeconds     = 120
	DefaultMaxClockSkewSeconds = 10
	DefaultRateLimitRequests   = 100
	DefaultRateLimitWindow     = 60
)
