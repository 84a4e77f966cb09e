package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/checksum"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/retry"
)

const envPrefix = "OBJCTL"

// app carries the state shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
	client *core.Client
}

func newLogger(w io.Writer, level string, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl <= log.DebugLevel,
	})
	return slog.New(handler), nil
}

func (a *app) credentials(ctx context.Context) (auth.Provider, error) {
	source := strings.ToLower(a.v.GetString("credentials"))
	if source == "" {
		source = "env"
		if a.v.GetString("access-key") != "" {
			source = "static"
		}
	}

	switch source {
	case "static":
		return auth.NewStaticProvider(
			a.v.GetString("access-key"),
			a.v.GetString("secret-key"),
			a.v.GetString("session-token"),
		), nil
	case "env":
		return auth.NewCache(auth.NewDefaultChain(nil)), nil
	case "aws":
		opts := []func(*awsconfig.LoadOptions) error{}
		if region := a.v.GetString("region"); region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return auth.NewCache(auth.FromAWS(awsCfg.Credentials)), nil
	default:
		return nil, fmt.Errorf("unknown credential source %q (want static, env or aws)", source)
	}
}

func (a *app) loadConfigFile() error {
	path := strings.TrimSpace(a.v.GetString("config"))
	if path == "" {
		return nil
	}
	a.v.SetConfigFile(path)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

// setup runs before every command: it reads the configuration, installs
// the logger and builds the client.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.loadConfigFile(); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"), a.v.GetString("log-format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.logger = logger

	bucket := a.v.GetString("bucket")
	if bucket == "" {
		return fmt.Errorf("a bucket is required (--bucket or %s_BUCKET)", envPrefix)
	}

	kind, err := checksum.ParseKind(a.v.GetString("checksum"))
	if err != nil {
		return err
	}

	provider, err := a.credentials(cmd.Context())
	if err != nil {
		return err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = a.v.GetInt("max-retries")
	retryCfg.RetryTimeout = a.v.GetDuration("retry-timeout")

	cfg := core.NewConfig(bucket,
		core.WithRegion(a.v.GetString("region")),
		core.WithEndpoint(a.v.GetString("endpoint")),
		core.WithVirtualHostedStyle(a.v.GetBool("virtual-hosted")),
		core.WithCredentials(provider),
		core.WithRetry(retryCfg),
		core.WithClientOptions(core.ClientOptions{
			Timeout:          a.v.GetDuration("timeout"),
			Tracing:          a.v.GetBool("trace"),
			InferContentType: true,
		}),
		core.WithSignPayload(a.v.GetBool("sign-payload")),
		core.WithChecksum(kind),
		core.WithLogger(logger),
	)

	client, err := core.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	a.client = client

	logger.Debug("Client configured",
		"bucket", bucket,
		"endpoint", client.Config().BucketEndpoint,
		"region", client.Config().Region,
	)
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "objctl",
		Short: "Work with objects in an S3 compatible bucket",
		Long: `objctl talks to one bucket of an S3 compatible service.

Every flag can also be set through an OBJCTL_ environment variable
(--max-retries becomes OBJCTL_MAX_RETRIES) or a config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("endpoint", "", "service endpoint, defaults to AWS for the region")
	flags.String("region", "", "signing region, derived from the endpoint when empty")
	flags.String("bucket", "", "bucket name")
	flags.Bool("virtual-hosted", false, "address the bucket as a subdomain of the endpoint")
	flags.String("credentials", "", "credential source: static, env or aws")
	flags.String("access-key", "", "access key id for static credentials")
	flags.String("secret-key", "", "secret access key for static credentials")
	flags.String("session-token", "", "session token for static credentials")
	flags.String("checksum", "", "checksum sent with uploads: sha256, sha1, crc32, crc32c or crc64nvme")
	flags.Bool("sign-payload", false, "include the payload hash in the signature")
	flags.Int("max-retries", retry.DefaultMaxRetries, "retries after the first attempt")
	flags.Duration("retry-timeout", 0, "upper bound on the time spent retrying one request")
	flags.Duration("timeout", 0, "timeout of a single attempt")
	flags.Bool("trace", false, "instrument requests with OpenTelemetry")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text, json or logfmt")
	bindFlags(a.v, flags)

	root.AddCommand(
		newGetCommand(a),
		newStatCommand(a),
		newPutCommand(a),
		newRemoveCommand(a),
		newCopyCommand(a),
		newListCommand(a),
		newUploadCommand(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("objctl exited with error", "error", err)
		os.Exit(1)
	}
}
