// Package config holds the flag-bound configuration structs for both the
// scheduler and worker binaries, following the teacher's pattern of a single
// struct wired to cobra flags via AddFlagsToCommand-style methods.
package config

import (
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

// PlacementKind names a placement.Policy implementation selectable from the
// command line.
type PlacementKind string

const (
	PlacementWorkStealing PlacementKind = "workstealing"
	PlacementRandom       PlacementKind = "random"
)

// SchedulerConfig configures the scheduler binary: the gateway's listening
// address, the placement policy, and the bridge's buffering.
type SchedulerConfig struct {
	LogLevel   string
	JSONLogs   bool
	ListenAddr string
	Placement  PlacementKind

	// BridgeBufferSize bounds the channel pair between the gateway's I/O
	// context and the scheduler core goroutine.
	BridgeBufferSize int

	// TickInterval drives the placement policy's periodic rebalance pass.
	TickInterval time.Duration

	// CostLoadWeight and CostRemoteBytesWeight are the α and β coefficients
	// of the work-stealing cost function α·load(w) + β·remote_bytes(w,t).
	CostLoadWeight       float64
	CostRemoteBytesWeight float64

	Metrics MetricsConfig
}

// WorkerConfig configures the worker binary: the scheduler it connects to,
// its subworker pool, and the fetcher's retry policy.
type WorkerConfig struct {
	LogLevel        string
	JSONLogs        bool
	SchedulerAddr   string
	ListenAddr      string
	NCPUs           int
	SubworkerCmd    string
	SubworkerArgs   []string
	FetchPoolSize   int
	FetchMaxRetries int
	FetchInitialWait time.Duration
	FetchMaxWait     time.Duration

	Metrics MetricsConfig
}

// MetricsConfig configures the admin HTTP server shared by both binaries.
type MetricsConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

// NewDefaultSchedulerConfig mirrors the teacher's NewDefaultConfig: every
// field gets a sane, overridable default.
func NewDefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		LogLevel:              "info",
		JSONLogs:              false,
		ListenAddr:            ":8786",
		Placement:             PlacementWorkStealing,
		BridgeBufferSize:      4096,
		TickInterval:          10 * time.Millisecond,
		CostLoadWeight:        1.0,
		CostRemoteBytesWeight: 0.001,
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9786",
			Path:    "/metrics",
		},
	}
}

// NewDefaultWorkerConfig mirrors the teacher's NewDefaultConfig for the
// worker binary.
func NewDefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		LogLevel:         "info",
		JSONLogs:         false,
		SchedulerAddr:    "127.0.0.1:8786",
		ListenAddr:       ":0",
		NCPUs:            GetOptimalWorkerCount(),
		SubworkerCmd:     "",
		FetchPoolSize:    8,
		FetchMaxRetries:  5,
		FetchInitialWait: 50 * time.Millisecond,
		FetchMaxWait:     5 * time.Second,
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9787",
			Path:    "/metrics",
		},
	}
}

// AddFlags registers the scheduler's flags on cmd.
func (c *SchedulerConfig) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	cmd.Flags().BoolVar(&c.JSONLogs, "json-logs", c.JSONLogs, "Emit logs as JSON lines instead of plain text")
	cmd.Flags().StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Gateway listen address for worker and client connections")
	cmd.Flags().StringVar((*string)(&c.Placement), "placement", string(c.Placement), "Placement policy (workstealing, random)")
	cmd.Flags().IntVar(&c.BridgeBufferSize, "bridge-buffer", c.BridgeBufferSize, "Bounded channel capacity between the gateway and the scheduler core")
	cmd.Flags().DurationVar(&c.TickInterval, "tick-interval", c.TickInterval, "Placement policy rebalance tick interval")
	cmd.Flags().Float64Var(&c.CostLoadWeight, "cost-load-weight", c.CostLoadWeight, "Alpha coefficient of the work-stealing cost function")
	cmd.Flags().Float64Var(&c.CostRemoteBytesWeight, "cost-remote-bytes-weight", c.CostRemoteBytesWeight, "Beta coefficient of the work-stealing cost function")
	c.Metrics.addFlags(cmd, ":9786")
}

// AddFlags registers the worker's flags on cmd.
func (c *WorkerConfig) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	cmd.Flags().BoolVar(&c.JSONLogs, "json-logs", c.JSONLogs, "Emit logs as JSON lines instead of plain text")
	cmd.Flags().StringVar(&c.SchedulerAddr, "scheduler", c.SchedulerAddr, "Scheduler gateway address to connect to")
	cmd.Flags().StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Address this worker listens on for peer data fetches")
	cmd.Flags().IntVar(&c.NCPUs, "ncpus", c.NCPUs, "Number of subworker slots (0 = auto-detect)")
	cmd.Flags().StringVar(&c.SubworkerCmd, "subworker-cmd", c.SubworkerCmd, "Executable launched per subworker slot")
	cmd.Flags().StringSliceVar(&c.SubworkerArgs, "subworker-arg", c.SubworkerArgs, "Extra arguments passed to each subworker process")
	cmd.Flags().IntVar(&c.FetchPoolSize, "fetch-pool-size", c.FetchPoolSize, "Number of data fetchers running concurrently")
	cmd.Flags().IntVar(&c.FetchMaxRetries, "fetch-max-retries", c.FetchMaxRetries, "Max retry attempts for a single data fetch")
	cmd.Flags().DurationVar(&c.FetchInitialWait, "fetch-initial-wait", c.FetchInitialWait, "Initial backoff wait before a fetch retry")
	cmd.Flags().DurationVar(&c.FetchMaxWait, "fetch-max-wait", c.FetchMaxWait, "Max backoff wait between fetch retries")
	c.Metrics.addFlags(cmd, ":9787")
}

func (m *MetricsConfig) addFlags(cmd *cobra.Command, defaultAddr string) {
	if m.Addr == "" {
		m.Addr = defaultAddr
	}
	cmd.Flags().BoolVar(&m.Enabled, "metrics", m.Enabled, "Serve Prometheus metrics and health endpoints")
	cmd.Flags().StringVar(&m.Addr, "metrics-addr", m.Addr, "Address for the metrics/health HTTP server")
	cmd.Flags().StringVar(&m.Path, "metrics-path", m.Path, "HTTP path for the Prometheus metrics endpoint")
}

// GetOptimalWorkerCount determines a default subworker slot count, following
// the teacher's small-machine-vs-large-machine heuristic.
func GetOptimalWorkerCount() int {
	numCPU := runtime.NumCPU()
	switch {
	case numCPU <= 2:
		return 2
	case numCPU <= 4:
		return numCPU
	default:
		return numCPU - 1
	}
}
