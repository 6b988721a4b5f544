package config

const (
	// API configuration
	DefaultHost    = "https://jsonplaceholder.typicode.com"
	DefaultTimeout = 5000 // milliseconds
	UserAgent      = "manifold-jsonplaceholder-example/0.1.0"

	// Throttling and resilience
	RequestsPerSecond   = 5
	Burst               = 2
	ConsecutiveFailures = 5

	// Server configuration
	MetricsPort = ":2112"

	// OpenTelemetry configuration
	OTLPEndpoint   = "localhost:4317"
	ServiceName    = "manifold-jsonplaceholder-example"
	ServiceVersion = "0.1.0"

	// Operation intervals
	OperationInterval = 5 // seconds
)
