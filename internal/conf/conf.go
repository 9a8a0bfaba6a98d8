package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Log        *Log
	Resilience *Resilience
}

// Server holds transport listener settings.
type Server struct {
	Http *Server_HTTP
	Grpc *Server_GRPC
}

// Server_HTTP configures the HTTP listener.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Server_GRPC configures the gRPC listener.
type Server_GRPC struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage settings.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Registry *Data_Registry
}

// Data_Database configures the audit database. An empty Source disables it.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the shared Redis client.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Registry selects the analysis registry backend.
type Data_Registry struct {
	// Driver is "memory" or "redis".
	Driver    string
	KeyPrefix string
	// Ttl bounds how long a Redis record outlives its last update.
	Ttl *durationpb.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Resilience groups breaker, dispatcher, orchestrator and provider settings.
type Resilience struct {
	Breaker      *Breaker
	Dispatcher   *Dispatcher
	Orchestrator *Orchestrator
	Providers    []*Provider
}

// Breaker is the circuit breaker configuration shared by every provider.
type Breaker struct {
	FailureThreshold    int32
	RecoveryTimeout     *durationpb.Duration
	HalfOpenMaxAttempts int32
	ResetTimeout        *durationpb.Duration
}

// Dispatcher configures the provider fallback chain.
type Dispatcher struct {
	FallbackEnabled bool
	// StreamMode is "eager" or "buffered".
	StreamMode      string
	ProviderTimeout *durationpb.Duration
}

// Orchestrator configures analysis execution and retention.
type Orchestrator struct {
	MaxConcurrentAnalyses int32
	// MaxParallelTasks bounds concurrently running tasks per analysis, 0 means unbounded.
	MaxParallelTasks int32
	TaskTimeout      *durationpb.Duration
	Retention        *durationpb.Duration
	SweepInterval    *durationpb.Duration
}

// Provider describes one upstream text-generation backend.
type Provider struct {
	Name      string
	Type      string
	Priority  int32
	BaseUrl   string
	Model     string
	ApiKey    string
	ApiKeyEnv string
	ProxyUrl  string
	MaxTokens int32
	RpmLimit  int32
	TpmLimit  int32
	Timeout   *durationpb.Duration
}
