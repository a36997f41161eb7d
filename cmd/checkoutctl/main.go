// Command checkoutctl: операторский CLI витрины: токены, сверка сессий, заказы и разбор DLQ.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envGRPCAddr     = "STOREFRONT_GRPC_ADDR"
	envJWTSecret    = "STOREFRONT_JWT_SECRET"
	envKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"

	defaultGRPCAddr = "localhost:50051"
	defaultTimeout  = 10 * time.Second
)

// globalOptions — флаги, общие для всех подкоманд.
type globalOptions struct {
	grpcAddr  string
	jwtSecret string
	user      string
	token     string
	brokers   string
	timeout   time.Duration
}

func main() {
	if err := newRootCommand(os.Stdout, os.Getenv, defaultCommandDeps()).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandDeps — внешние подключения подкоманд; в тестах подменяются.
type commandDeps struct {
	dial        dialFunc
	newProducer producerFactory
	replay      replayDependencies
}

func defaultCommandDeps() commandDeps {
	return commandDeps{dial: dialGRPC, newProducer: newKafkaProducer, replay: newReplayDependencies}
}

func newRootCommand(out io.Writer, getenv func(string) string, deps commandDeps) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator CLI for the storefront checkout service",
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.grpcAddr, "grpc-addr", envOr(getenv, envGRPCAddr, defaultGRPCAddr), "checkout gRPC address")
	flags.StringVar(&opts.jwtSecret, "jwt-secret", getenv(envJWTSecret), "secret used to sign user tokens")
	flags.StringVar(&opts.user, "user", "", "act as this user (a token is issued with --jwt-secret)")
	flags.StringVar(&opts.token, "token", "", "bearer token; overrides --user")
	flags.StringVar(&opts.brokers, "brokers", getenv(envKafkaBrokers), "Kafka brokers as comma-separated list")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "per-call timeout")

	root.AddCommand(
		newVersionCommand(),
		newTokenCommand(opts),
		newSessionCommand(opts, deps.dial),
		newOrdersCommand(opts, deps.dial),
		newSettleCommand(opts, deps.newProducer),
		newDLQCommand(opts, deps.replay),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), version.Get())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
