package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/net/trace"
	"k8s.io/utils/clock"

	zipkintracer "github.com/openzipkin-contrib/zipkin-go-rawtracer"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/events"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/internal/ingest"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

const envPrefix = "recorder"

// Configuration keys, also used as flag names.
const (
	keyConfig          = "config"
	keyDebug           = "debug"
	keyCollectors      = "collector"
	keyScribeAddr      = "scribe-addr"
	keyHTTPURL         = "http-url"
	keyKafkaBrokers    = "kafka-brokers"
	keyKafkaTopic      = "kafka-topic"
	keyTTL             = "ttl"
	keySweepPeriod     = "sweep-period"
	keySliding         = "sliding-deadline"
	keyBatchSize       = "batch-size"
	keySubmitTimeout   = "submit-timeout"
	keyLogInterval     = "log-error-interval"
	keyLateSpanCache   = "late-span-cache"
	keyMetricsAddr     = "metrics-addr"
	keyInput           = "input"
	keyShutdownTimeout = "shutdown-timeout"
	keyLocalEndpoint   = "local-endpoint"
	keyServiceName     = "service-name"
)

// NewViper returns a viper reading config.yaml from the working directory
// and RECORDER_* environment variables.
func NewViper() *viper.Viper {
	vp := viper.New()
	vp.SetConfigName("config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp
}

// New returns the root command. Its flags are bound to vp.
func New(vp *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "zipkin-recorder",
		Short:         "Aggregate span annotations and ship complete spans to Zipkin",
		Long:          "zipkin-recorder reads newline delimited JSON annotations, merges them into spans and submits each span once its deadline has passed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if file := vp.GetString(keyConfig); file != "" {
				vp.SetConfigFile(file)
			}
			if err := vp.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return fmt.Errorf("reading config: %w", err)
				}
			}
			initLogrus(vp.GetBool(keyDebug))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			in := cmd.InOrStdin()
			if path := vp.GetString(keyInput); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return run(ctx, vp, in)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(keyConfig, "", "Path to a config file (default ./config.yaml)")
	flags.Bool(keyDebug, false, "Enable debug logging")
	flags.StringP(keyInput, "i", "-", "Input file, - reads standard input")
	flags.String(keyMetricsAddr, "", "Address serving /metrics and /debug/events, empty disables")
	flags.Duration(keyShutdownTimeout, 10*time.Second, "Maximum time to drain spans on exit")
	flags.AddFlagSet(collectorFlags())
	flags.AddFlagSet(tracerFlags())
	if err := vp.BindPFlags(flags); err != nil {
		panic(err)
	}
	return cmd
}

func collectorFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("collectors", pflag.ContinueOnError)
	fs.StringSlice(keyCollectors, []string{"scribe"}, "Collectors to submit spans to: scribe, http, kafka or nop")
	fs.String(keyScribeAddr, "localhost:9410", "Scribe collector address")
	fs.String(keyHTTPURL, "http://localhost:9411/api/v1/spans", "Thrift HTTP collector URL")
	fs.StringSlice(keyKafkaBrokers, []string{"localhost:9092"}, "Kafka broker addresses")
	fs.String(keyKafkaTopic, "zipkin", "Kafka topic")
	fs.Duration(keySubmitTimeout, zipkintracer.DefaultSubmitTimeout, "Timeout of a single collector call")
	return fs
}

func tracerFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tracer", pflag.ContinueOnError)
	fs.Duration(keyTTL, zipkintracer.DefaultTTL, "How long a span collects annotations before it is submitted")
	fs.Duration(keySweepPeriod, zipkintracer.DefaultSweepPeriod, "Interval between two sweeps for expired spans")
	fs.Bool(keySliding, false, "Renew a span deadline on every annotation")
	fs.Int(keyBatchSize, zipkintracer.DefaultBatchSize, "Maximum number of spans per collector call")
	fs.Duration(keyLogInterval, zipkintracer.DefaultLogErrorInterval, "Minimum interval between two identical collector error logs")
	fs.Int(keyLateSpanCache, zipkintracer.DefaultLateSpanCache, "Number of submitted trace ids remembered to detect late annotations, 0 disables")
	fs.String(keyLocalEndpoint, "", "host:port of the traced service, used until a local_addr record arrives")
	fs.String(keyServiceName, "", "Service name used until a service_name record arrives")
	return fs
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := New(NewViper()).Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func initLogrus(debug bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	logrus.SetOutput(os.Stderr)
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// newCollector builds the collectors named in the configuration. More than
// one collector is combined into a MultiCollector.
func newCollector(vp *viper.Viper, logger zipkintracer.Logger) (zipkintracer.Collector, error) {
	var collectors zipkintracer.MultiCollector
	closeAll := func() { _ = collectors.Close() }
	for _, name := range vp.GetStringSlice(keyCollectors) {
		var (
			c   zipkintracer.Collector
			err error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "scribe":
			c, err = zipkintracer.NewScribeCollector(vp.GetString(keyScribeAddr),
				zipkintracer.ScribeLogger(logger),
				zipkintracer.ScribeDialTimeout(vp.GetDuration(keySubmitTimeout)),
			)
		case "http":
			c, err = zipkintracer.NewHTTPCollector(vp.GetString(keyHTTPURL),
				zipkintracer.HTTPTimeout(vp.GetDuration(keySubmitTimeout)),
			)
		case "kafka":
			c, err = zipkintracer.NewKafkaCollector(vp.GetStringSlice(keyKafkaBrokers),
				zipkintracer.KafkaTopic(vp.GetString(keyKafkaTopic)),
			)
		case "nop":
			c = zipkintracer.NopCollector{}
		default:
			err = fmt.Errorf("unknown collector %q", name)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		collectors = append(collectors, c)
	}
	switch len(collectors) {
	case 0:
		return nil, errors.New("no collector configured")
	case 1:
		return collectors[0], nil
	}
	return collectors, nil
}

func tracerOptions(vp *viper.Viper, logger zipkintracer.Logger, reg prometheus.Registerer, listener events.SweepListener) ([]zipkintracer.TracerOption, error) {
	opts := []zipkintracer.TracerOption{
		zipkintracer.WithTTL(vp.GetDuration(keyTTL)),
		zipkintracer.WithSweepPeriod(vp.GetDuration(keySweepPeriod)),
		zipkintracer.WithBatchSize(vp.GetInt(keyBatchSize)),
		zipkintracer.WithSubmitTimeout(vp.GetDuration(keySubmitTimeout)),
		zipkintracer.WithLogErrorInterval(vp.GetDuration(keyLogInterval)),
		zipkintracer.WithLateSpanCache(vp.GetInt(keyLateSpanCache)),
		zipkintracer.WithLogger(logger),
		zipkintracer.WithRegisterer(reg),
		zipkintracer.WithSweepListener(listener),
	}
	if vp.GetBool(keySliding) {
		opts = append(opts, zipkintracer.WithSlidingDeadline())
	}
	local := models.Endpoint{ServiceName: vp.GetString(keyServiceName)}
	if hostport := vp.GetString(keyLocalEndpoint); hostport != "" {
		ep, err := models.MakeEndpoint(hostport, local.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("local endpoint: %w", err)
		}
		local = ep
	}
	return append(opts, zipkintracer.WithLocalEndpoint(local)), nil
}

func serveDebug(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/events", trace.Events)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("debug server stopped")
		}
	}()
	logrus.WithField("addr", ln.Addr().String()).Info("serving /metrics and /debug/events")
	return srv, nil
}

// run feeds records decoded from in to a tracer until in is exhausted or
// ctx is done, then drains the tracer.
func run(ctx context.Context, vp *viper.Viper, in io.Reader) error {
	logger := zipkintracer.NewLogrusLogger(logrus.StandardLogger())
	collector, err := newCollector(vp, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	listener, finish := events.NetTraceIntegrator("zipkin-recorder", "sweeps")
	defer finish()

	opts, err := tracerOptions(vp, logger, reg, listener)
	if err != nil {
		_ = collector.Close()
		return err
	}
	tracer, err := zipkintracer.NewTracer(collector, opts...)
	if err != nil {
		_ = collector.Close()
		return err
	}

	if addr := vp.GetString(keyMetricsAddr); addr != "" {
		srv, err := serveDebug(addr, reg)
		if err != nil {
			_ = tracer.Close()
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- feed(ctx, ingest.NewDecoder(in, clock.RealClock{}), tracer)
	}()

	select {
	case err = <-readErr:
	case <-ctx.Done():
		logrus.Info("interrupted, draining spans")
	}

	drained := make(chan error, 1)
	go func() { drained <- tracer.Close() }()
	select {
	case closeErr := <-drained:
		if err == nil {
			err = closeErr
		}
	case <-time.After(vp.GetDuration(keyShutdownTimeout)):
		logrus.WithField("spans", tracer.Len()).Warn("shutdown timed out, spans lost")
	}
	return err
}

// feed records every decoded line. Malformed lines are logged and skipped.
func feed(ctx context.Context, dec *ingest.Decoder, tracer *zipkintracer.Tracer) error {
	var n int
	for ctx.Err() == nil {
		r, err := dec.Next()
		if errors.Is(err, io.EOF) {
			logrus.WithField("records", n).Debug("input exhausted")
			return nil
		}
		var syntaxErr *ingest.LineError
		if errors.As(err, &syntaxErr) {
			logrus.WithError(err).Warn("skipping malformed record")
			continue
		}
		if err != nil {
			return err
		}
		tracer.Record(r)
		n++
	}
	return nil
}
