// Command media-web serves the batch API over HTTP.
//
// Run locally it executes batches in-process and holds each archive until
// it is downloaded once. Deployed as a Lambda behind API Gateway it only
// records batches in DynamoDB and hands them to the bundle Lambda.
//
// Endpoints:
//
//	GET  /api/health                   health check (no auth required)
//	GET  /api/sources/list             list the media of a chat
//	POST /api/pick                     native folder picker (local only)
//	POST /api/batches                  start a batch
//	GET  /api/batches/{id}             batch status and item outcomes
//	GET  /api/batches/{id}/events      progress and transition feed (local only)
//	POST /api/batches/{id}/cancel      cancel a running batch (local only)
//	GET  /api/batches/{id}/archive     download the archive
//	GET  /api/batches/{id}/manifest    per-item manifest
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/lambdaboot"
	"github.com/fpang/media-bundler/internal/logging"
	"github.com/fpang/media-bundler/internal/setup"
	"github.com/fpang/media-bundler/internal/store"
	"github.com/fpang/media-bundler/internal/transcode"
)

// CLI flags
var (
	portFlag   int
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "media-web",
	Short: "HTTP API for chat media batches",
	Long: `media-web starts a local web server that lists chat media, runs download
batches and serves the finished archives.

Examples:
  media-web
  media-web --port 9090
  media-web --config ./media.toml`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default from config)")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "Config file (default ~/.config/media-bundler/config.toml)")
}

func main() {
	logging.Init()
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		runLambda()
		return
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runLambda serves the API through API Gateway. Batches are dispatched to
// the bundle Lambda and tracked in DynamoDB.
func runLambda() {
	initStart := time.Now()

	cfg, _, _, err := config.Load(os.Getenv("MEDIA_CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create working directories")
	}

	aws := lambdaboot.InitAWS()
	batches := lambdaboot.InitDynamo(aws.Config, "DYNAMO_TABLE_NAME")
	invoker, bundleArn := lambdaboot.InitLambda(aws.Config, "BUNDLE_LAMBDA_ARN")
	if invoker == nil {
		log.Fatal().Msg("BUNDLE_LAMBDA_ARN is required")
	}
	hasSession := lambdaboot.LoadSessionToken(context.Background(), aws.SSM)
	originSecret := os.Getenv("ORIGIN_VERIFY_SECRET")

	srv := newServer(context.Background(), cfg, batches, transcode.NewAdapter(transcode.Unavailable("batches run in the bundle Lambda"), nil, transcode.Options{}))
	srv.dispatch = bundleDispatcher(invoker, bundleArn)
	if bucket := os.Getenv("MEDIA_BUCKET_NAME"); bucket != "" {
		s3c := lambdaboot.InitS3(aws.Config, "MEDIA_BUCKET_NAME")
		srv.s3 = s3c.Client
		if cfg.Source.S3Bucket == "" {
			cfg.Source.S3Bucket = bucket
		}
	}

	lambdaboot.StartupLog("media-web", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("batches", os.Getenv("DYNAMO_TABLE_NAME")).
		LambdaFunc("bundle", bundleArn).
		S3Bucket("media", cfg.Source.S3Bucket).
		Feature("originVerify", originSecret != "").
		Feature("session", hasSession).
		Log()

	adapter := httpadapter.NewV2(withOriginVerify(originSecret, withLogging(srv.routes())))
	lambda.Start(adapter.ProxyWithContext)
}

func runMain(cmd *cobra.Command, args []string) error {
	cfg, configPath, configSeen, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Server.ListenPort = portFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initStart := time.Now()
	srv := newServer(context.Background(), cfg, store.NewMemoryStore(), setup.Transcoder(ctx, cfg))

	startup := logging.NewStartupLogger("media-web").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("listen", cfg.ListenAddr()).
		Config("archiveDir", cfg.Paths.ArchiveDir).
		Feature("transcode", srv.adapter.Capability().Available)
	if configSeen {
		startup.Config("configFile", configPath)
	}
	startup.InitDuration(time.Since(initStart)).Log()

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      withLogging(withCORS(srv.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // archive downloads and long-polls outlive any fixed limit
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("\n  Media API: http://localhost:%d\n\n", cfg.Server.ListenPort)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	srv.shutdown()
	return nil
}
