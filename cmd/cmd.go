package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/joho/godotenv"
	"github.com/lutheralien/fluxsave-sdk-go/client"
	"github.com/lutheralien/fluxsave-sdk-go/metrics"
	"github.com/lutheralien/fluxsave-sdk-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// Options carries global CLI options.
type Options struct {
	// The Fluxsave service base URL.
	BaseURL string
	// Credentials sent with every request, or expected by the sandbox.
	APIKey, APISecret string
	// Timeout for a single request (0 means none).
	Timeout time.Duration
	// Transport-level retries.
	Retries int
	// Client certificate for mutual TLS (both or neither).
	TLSCert, TLSKey string
	// If true, requests are traced with OpenTelemetry.
	Tracing bool
	// If set, client statistics are written there after each command.
	MetricsTextfile string
}

// envFlags maps flags to the variables that may be provided by an env file.
var envFlags = map[string]string{
	"base-url":   client.EnvBaseURL,
	"api-key":    client.EnvAPIKey,
	"api-secret": client.EnvAPISecret,
}

// CreateApp builds the fluxsave CLI.
func CreateApp() *cli.App {
	r := &runner{}

	return &cli.App{
		Name:  "fluxsave",
		Usage: "manage files stored in a Fluxsave service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Usage: "Fluxsave service URL", EnvVars: []string{client.EnvBaseURL}},
			&cli.StringFlag{Name: "api-key", Usage: "API key", EnvVars: []string{client.EnvAPIKey}},
			&cli.StringFlag{Name: "api-secret", Usage: "API secret", EnvVars: []string{client.EnvAPISecret}},
			&cli.StringFlag{Name: "env-file", Usage: "load variables from this file (default: .env if present)"},
			&cli.DurationFlag{Name: "timeout", Usage: "timeout for a single request", Value: time.Minute},
			&cli.IntFlag{Name: "retries", Usage: "transport retries on connection errors and 5xx responses"},
			&cli.StringFlag{Name: "tls-cert", Usage: "client certificate for mutual TLS"},
			&cli.StringFlag{Name: "tls-key", Usage: "client key for mutual TLS"},
			&cli.BoolFlag{Name: "otel", Usage: "trace requests with OpenTelemetry"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "write client metrics to this file after the command"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			r.logger = slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

			return loadEnvFile(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload one or more files",
				ArgsUsage: "FILE...",
				Flags:     uploadFlags(),
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					paths := c.Args().Slice()
					switch len(paths) {
					case 0:
						return nil, fault.New("at least one file is required")
					case 1:
						return cl.UploadFile(c.Context, paths[0], uploadOptions(c))
					default:
						return cl.UploadFiles(c.Context, paths, uploadOptions(c))
					}
				}),
			},
			{
				Name:  "list",
				Usage: "list stored files",
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					return cl.ListFiles(c.Context)
				}),
			},
			{
				Name:      "metadata",
				Usage:     "show the metadata of a file",
				ArgsUsage: "ID",
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					id, err := requireArgs(c, 1)
					if err != nil {
						return nil, err
					}
					return cl.GetFileMetadata(c.Context, id[0])
				}),
			},
			{
				Name:      "update",
				Usage:     "replace the content of a file",
				ArgsUsage: "ID FILE",
				Flags:     uploadFlags(),
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					args, err := requireArgs(c, 2)
					if err != nil {
						return nil, err
					}
					return cl.UpdateFile(c.Context, args[0], args[1], uploadOptions(c))
				}),
			},
			{
				Name:      "delete",
				Usage:     "delete a file",
				ArgsUsage: "ID",
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					id, err := requireArgs(c, 1)
					if err != nil {
						return nil, err
					}
					return cl.DeleteFile(c.Context, id[0])
				}),
			},
			{
				Name:  "metrics",
				Usage: "show service metrics",
				Action: r.withClient(func(c *cli.Context, cl *client.Client) (*client.Result, error) {
					return cl.GetMetrics(c.Context)
				}),
			},
			{
				Name:      "url",
				Usage:     "print the public link to a file",
				ArgsUsage: "ID [KEY=VALUE...]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return fault.New("a file ID is required")
					}
					cl, err := optionsFromContext(c).newClient(r.logger)
					if err != nil {
						return err
					}
					params, err := parseQuery(c.Args().Tail())
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, cl.BuildFileURL(c.Args().First(), params...))
					return err
				},
			},
			{
				Name:  "sandbox",
				Usage: "run an in-memory Fluxsave service for development",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bind", Usage: "address to listen on", Value: ":8080"},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					opts := optionsFromContext(c)
					return runSandbox(ctx, r.logger, c.String("bind"), server.Options{
						APIKey:    opts.APIKey,
						APISecret: opts.APISecret,
					})
				},
			},
		},
	}
}

func uploadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "display name for the file"},
		&cli.BoolFlag{Name: "transform", Usage: "ask the service to transform the file (sent only when given)"},
	}
}

func uploadOptions(c *cli.Context) *client.UploadOptions {
	opts := &client.UploadOptions{Name: c.String("name")}
	if c.IsSet("transform") {
		opts.Transform = client.Bool(c.Bool("transform"))
	}
	return opts
}

func optionsFromContext(c *cli.Context) Options {
	return Options{
		BaseURL:         c.String("base-url"),
		APIKey:          c.String("api-key"),
		APISecret:       c.String("api-secret"),
		Timeout:         c.Duration("timeout"),
		Retries:         c.Int("retries"),
		TLSCert:         c.String("tls-cert"),
		TLSKey:          c.String("tls-key"),
		Tracing:         c.Bool("otel"),
		MetricsTextfile: c.String("metrics-textfile"),
	}
}

func (o Options) newClient(logger *slog.Logger) (*client.Client, error) {
	if o.BaseURL == "" {
		return nil, fault.New("base URL is not set (use --base-url or " + client.EnvBaseURL + ")")
	}

	hc, err := client.NewHTTPClient(o.TLSCert, o.TLSKey)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("failed to create HTTP client"))
	}
	hc.Timeout = o.Timeout

	opts := []client.Option{
		client.WithCredentials(o.APIKey, o.APISecret),
		client.WithHTTPClient(hc),
		client.WithLogger(logger),
		client.WithRetryMax(o.Retries),
	}
	if o.Tracing {
		opts = append(opts, client.WithTracing())
	}
	return client.New(o.BaseURL, opts...)
}

// runner holds state shared by commands once global flags are parsed.
type runner struct {
	logger *slog.Logger
}

// withClient creates the client, runs call, prints its result and reports statistics.
func (r *runner) withClient(call func(c *cli.Context, cl *client.Client) (*client.Result, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		opts := optionsFromContext(c)
		cl, err := opts.newClient(r.logger)
		if err != nil {
			return err
		}

		res, callErr := call(c, cl)

		stats := cl.GetStatistics()
		r.logger.Debug("client stats", stats.SlogArgs()...)

		if opts.MetricsTextfile != "" {
			if err := metrics.WriteTextfile(opts.MetricsTextfile, cl, prometheus.Labels{"command": c.Command.Name}); err != nil {
				r.logger.Error("failed to write metrics", slog.String("err", err.Error()))
			}
		}

		if callErr != nil {
			return callErr
		}
		return printJSON(c.App.Writer, res)
	}
}

func requireArgs(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, fault.New(fmt.Sprintf("expected %d argument(s): %s", n, c.Command.ArgsUsage))
	}
	return c.Args().Slice(), nil
}

func parseQuery(args []string) ([]client.QueryParam, error) {
	params := make([]client.QueryParam, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fault.New(fmt.Sprintf("invalid query option %q, expected KEY=VALUE", arg))
		}
		params = append(params, client.QueryParam{Key: k, Value: v})
	}
	return params, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// loadEnvFile loads --env-file, or .env when it exists, and applies the loaded
// variables to flags that were not set otherwise.
func loadEnvFile(c *cli.Context) error {
	file := c.String("env-file")
	if file != "" {
		if err := godotenv.Load(file); err != nil {
			return fault.Wrap(err, fmsg.With("failed to load env file"))
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.Wrap(err, fmsg.With("failed to load .env"))
	}

	for flag, env := range envFlags {
		if v := os.Getenv(env); v != "" && !c.IsSet(flag) {
			if err := c.Set(flag, v); err != nil {
				return fault.Wrap(err, fmsg.With("failed to apply "+env))
			}
		}
	}
	return nil
}

// runSandbox listens on addr and serves the in-memory service until ctx is done.
func runSandbox(ctx context.Context, logger *slog.Logger, addr string, opts server.Options) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fault.Wrap(err, fmsg.With("failed to listen"), fctx.With(fctx.WithMeta(ctx, "addr", addr)))
	}
	return serveSandbox(ctx, logger, ln, opts)
}

// serveSandbox serves on ln until ctx is done. It uses HTTP GET with retries
// to check that the server is up.
func serveSandbox(ctx context.Context, logger *slog.Logger, ln net.Listener, opts server.Options) error {
	srv := server.NewServer(logger, opts)
	httpSrv := &http.Server{
		Handler:           srv.CreateHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	addr := ln.Addr().String()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting sandbox", slog.String("addr", addr))

		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("sandbox stopped", slog.String("err", err.Error()))
			errCh <- err
		}
		close(errCh)
	}()

	if err := checkSandbox(ctx, logger, serverBaseURL(addr)); err != nil {
		_ = httpSrv.Close()
		if serveErr := <-errCh; serveErr != nil {
			return fault.Wrap(serveErr, fmsg.With("sandbox failed"))
		}
		return err
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fault.Wrap(err, fmsg.With("sandbox failed"))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("stopping sandbox")
	return httpSrv.Shutdown(shutdownCtx)
}

func checkSandbox(ctx context.Context, logger *slog.Logger, baseURL string) error {
	hc := retryablehttp.NewClient()
	hc.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/status", nil)
	if err != nil {
		return fault.Wrap(err, fmsg.With("error creating request"))
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fault.Wrap(err, fmsg.With("sandbox is not accessible"))
	}
	_ = resp.Body.Close()
	logger.Debug("sandbox is accessible", slog.Int("status", resp.StatusCode))
	return nil
}

func serverBaseURL(addr string) string {
	if host, port, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "::" || host == "0.0.0.0") {
		addr = net.JoinHostPort("localhost", port)
	}
	return fmt.Sprintf("http://%s", addr)
}

// LogError logs err with its status code and the metadata collected while it propagated.
func LogError(logger *slog.Logger, err error) {
	var attrs []slog.Attr
	var fe *client.Error
	if errors.As(err, &fe) {
		attrs = append(attrs, slog.Int("code", fe.Code))
	}
	for k, v := range fctx.Unwrap(err) {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(context.Background(), slog.LevelError, err.Error(), attrs...)
}
