package envvar

const (
	// ClearbgEnv is the environment variable used to determine the environment
	ClearbgEnv = "CLEARBG_ENV"

	// ClearbgServerHost is the environment variable used to determine the listen host
	ClearbgServerHost = "CLEARBG_SERVER_HOST"

	// ClearbgServerHTTPPort is the environment variable used to determine the HTTP port
	ClearbgServerHTTPPort = "CLEARBG_SERVER_HTTP_PORT"

	// ClearbgServerGRPCPort is the environment variable used to determine the gRPC port
	ClearbgServerGRPCPort = "CLEARBG_SERVER_GRPC_PORT"

	// ClearbgLogLevel is the environment variable used to determine the log level
	ClearbgLogLevel = "CLEARBG_LOG_LEVEL"

	// ClearbgMaxFileSizeMB is the environment variable used to cap upload sizes
	ClearbgMaxFileSizeMB = "CLEARBG_MAX_FILE_SIZE_MB"

	// ClearbgWarmupMode is the environment variable used to select the warmup mode
	ClearbgWarmupMode = "CLEARBG_WARMUP_MODE"

	// ClearbgModelsPath is the environment variable used to determine the models directory
	ClearbgModelsPath = "CLEARBG_MODELS_PATH"
)
