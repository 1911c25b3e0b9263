package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SmitUplenchwar2687/Beacon/internal/config"
)

type sinkOptions struct {
	kind            string
	url             string
	requireIdentity bool
	kafkaBrokers    []string
}

func (o *sinkOptions) addFlags(fs *pflag.FlagSet, defaultKind string) {
	fs.StringVar(&o.kind, "sink", defaultKind, "sink kind (memory, http, redis, kafka)")
	fs.StringVar(&o.url, "sink-url", "http://localhost:8080", "collector base URL for the http sink")
	fs.BoolVar(&o.requireIdentity, "require-identity", false, "sign in anonymously before writing")
	fs.StringSliceVar(&o.kafkaBrokers, "kafka-brokers", nil, "kafka broker addresses for the kafka sink")
}

// apply overlays the flags the user set onto cfg. The sink kind flag may
// carry a command-specific default, so it always wins when forceKind is set.
func (o *sinkOptions) apply(cmd *cobra.Command, cfg *config.SinkConfig, forceKind bool) {
	if forceKind || cmd.Flags().Changed("sink") {
		cfg.Kind = o.kind
	}
	if cmd.Flags().Changed("sink-url") {
		cfg.URL = o.url
	}
	if cmd.Flags().Changed("require-identity") {
		cfg.RequireIdentity = o.requireIdentity
	}
	if cmd.Flags().Changed("kafka-brokers") {
		cfg.KafkaBrokers = append([]string(nil), o.kafkaBrokers...)
	}
}
