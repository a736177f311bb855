package constants

type ContextKey string

const (
	PoolKey   ContextKey = "pool"
	TxKey     ContextKey = "tx"
	UserIDKey ContextKey = "user_id"
	LoggerKey ContextKey = "logger"
)
