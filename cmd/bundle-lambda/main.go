// Package main provides the Lambda entry point that runs media batches.
//
// media-web records a queued batch in DynamoDB and invokes this Lambda
// asynchronously (InvocationType=Event) with a jobs.BundleEvent. The Lambda
// lists the chat, downloads and transcodes the selected items, publishes
// the archive to S3 and writes the outcome back to the batch record. A
// BatchCompleted event goes to EventBridge when EVENT_BUS_NAME is set.
//
// Container: Full (ffmpeg included)
// Memory: 4 GB
// Timeout: 15 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/lambdaboot"
	"github.com/fpang/media-bundler/internal/logging"
	"github.com/fpang/media-bundler/internal/metrics"
	"github.com/fpang/media-bundler/internal/setup"
)

var coldStart = true

var app *bundler

// bootstrap runs once per cold start, before the first invocation.
func bootstrap() {
	initStart := time.Now()
	logging.Init()
	metrics.SetOutput(os.Stdout)

	cfg, _, _, err := config.Load(os.Getenv("MEDIA_CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create working directories")
	}

	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config, "MEDIA_BUCKET_NAME")
	batches := lambdaboot.InitDynamo(awsClients.Config, "DYNAMO_TABLE_NAME")
	hasSession := lambdaboot.LoadSessionToken(context.Background(), awsClients.SSM)
	if cfg.Source.S3Bucket == "" {
		cfg.Source.S3Bucket = s3s.Bucket
	}

	app = &bundler{
		cfg:     cfg,
		store:   batches,
		adapter: setup.Transcoder(context.Background(), cfg),
		s3:      s3s.Client,
		publisher: &archive.S3Publisher{
			Client:    s3s.Client,
			Presigner: s3s.Presigner,
			Bucket:    s3s.Bucket,
			Prefix:    "archives",
		},
	}
	events, bus := lambdaboot.InitEventBridge(awsClients.Config, "EVENT_BUS_NAME")
	if events != nil {
		app.events = events
		app.bus = bus
	}

	lambdaboot.StartupLog("bundle-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("mediaBucket", s3s.Bucket).
		DynamoTable("batches", os.Getenv("DYNAMO_TABLE_NAME")).
		SSMParam("sessionToken", logging.EnvOrDefault("SSM_SESSION_TOKEN_PARAM", lambdaboot.DefaultSessionTokenParam)).
		EventBus("notifications", bus).
		Feature("session", hasSession).
		Feature("transcode", app.adapter.Capability().Available).
		Log()
}

func main() {
	bootstrap()
	lambda.Start(handler)
}

func handler(ctx context.Context, event jobs.BundleEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "bundle-lambda").Msg("Cold start - first invocation")
	}
	log.Info().
		Str("batch", event.BatchID).
		Str("chat", event.Chat).
		Int("requestedItems", len(event.ItemIDs)).
		Msg("Bundle Lambda invoked")

	return app.run(ctx, event)
}
