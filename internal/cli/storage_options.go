package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

// bufferOptions are the flags selecting the local buffer backend. Flags
// the user did not set fall back to the loaded config.
type bufferOptions struct {
	backend           string
	path              string
	redisHost         string
	redisPort         int
	redisPassword     string
	redisDB           int
	redisCluster      bool
	redisClusterNodes []string
	redisPoolSize     int
	redisMaxRetries   int
	redisDialTimeout  time.Duration
}

func (o *bufferOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.backend, "buffer", storage.BackendBolt, "buffer backend (memory, bolt, sqlite, redis)")
	fs.StringVar(&o.path, "buffer-path", "beacon-buffer.db", "buffer file for the bolt and sqlite backends")
	fs.StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	fs.IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	fs.StringVar(&o.redisPassword, "redis-password", "", "redis password")
	fs.IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	fs.BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	fs.StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	fs.IntVar(&o.redisPoolSize, "redis-pool-size", 20, "redis connection pool size")
	fs.IntVar(&o.redisMaxRetries, "redis-max-retries", 3, "redis max retries")
	fs.DurationVar(&o.redisDialTimeout, "redis-dial-timeout", 5*time.Second, "redis dial timeout")
}

// apply overlays the flags the user set onto cfg.
func (o *bufferOptions) apply(cmd *cobra.Command, cfg *storage.Config) error {
	if cmd.Flags().Changed("buffer") {
		cfg.Backend = o.backend
	}
	if cmd.Flags().Changed("buffer-path") {
		cfg.Path = o.path
	}
	if cmd.Flags().Changed("redis-host") {
		cfg.Redis.Host = o.redisHost
	}
	if cmd.Flags().Changed("redis-port") {
		cfg.Redis.Port = o.redisPort
	}
	if cmd.Flags().Changed("redis-password") {
		cfg.Redis.Password = o.redisPassword
	}
	if cmd.Flags().Changed("redis-db") {
		cfg.Redis.DB = o.redisDB
	}
	if cmd.Flags().Changed("redis-cluster") {
		cfg.Redis.Cluster = o.redisCluster
	}
	if cmd.Flags().Changed("redis-cluster-nodes") {
		cfg.Redis.ClusterNodes = append([]string(nil), o.redisClusterNodes...)
	}
	if cmd.Flags().Changed("redis-pool-size") {
		cfg.Redis.PoolSize = o.redisPoolSize
	}
	if cmd.Flags().Changed("redis-max-retries") {
		cfg.Redis.MaxRetries = o.redisMaxRetries
	}
	if cmd.Flags().Changed("redis-dial-timeout") {
		cfg.Redis.DialTimeout = o.redisDialTimeout
	}

	if cfg.Backend != storage.BackendRedis || cfg.Redis.Cluster {
		return nil
	}
	host, port, err := normalizeRedisHostPort(cfg.Redis.Host, cfg.Redis.Port)
	if err != nil {
		return err
	}
	cfg.Redis.Host = host
	cfg.Redis.Port = port
	return nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
