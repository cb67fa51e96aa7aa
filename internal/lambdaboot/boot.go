// Package lambdaboot holds the cold-start bootstrap shared by the Lambda
// entry points: AWS config, S3, DynamoDB, EventBridge, the source session
// token from SSM, and the startup log line.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/logging"
	"github.com/fpang/media-bundler/internal/store"
)

// DefaultSessionTokenParam is the SSM parameter read when
// SSM_SESSION_TOKEN_PARAM is unset.
const DefaultSessionTokenParam = "/media-bundler/prod/session-token"

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// SSMAPI is the part of *ssm.Client used to read parameters.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client, presigner, and reads the bucket name from the
// given environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	client := s3.NewFromConfig(cfg)
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamo creates the batch store from the table named by tableEnvVar.
// Fatals if the env var is empty.
func InitDynamo(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitEventBridge returns an EventBridge client when busEnvVar names a bus,
// or nil when notifications are disabled.
func InitEventBridge(cfg aws.Config, busEnvVar string) (*eventbridge.Client, string) {
	bus := os.Getenv(busEnvVar)
	if bus == "" {
		log.Debug().Str("envVar", busEnvVar).Msg("Event bus not set, batch notifications disabled")
		return nil, ""
	}
	return eventbridge.NewFromConfig(cfg), bus
}

// InitLambda returns a Lambda client and the function ARN read from arnEnvVar,
// or nil when async dispatch is not configured.
func InitLambda(cfg aws.Config, arnEnvVar string) (*lambdasvc.Client, string) {
	arn := os.Getenv(arnEnvVar)
	if arn == "" {
		return nil, ""
	}
	return lambdasvc.NewFromConfig(cfg), arn
}

// LoadSessionToken fetches the source session token from SSM Parameter Store
// unless MEDIA_SESSION_TOKEN is already set. A missing parameter is not
// fatal: sources that need no token (S3, local directories) still work.
func LoadSessionToken(ctx context.Context, client SSMAPI) bool {
	if os.Getenv(auth.TokenEnv) != "" {
		return true
	}
	paramName := os.Getenv("SSM_SESSION_TOKEN_PARAM")
	if paramName == "" {
		paramName = DefaultSessionTokenParam
	}

	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil || result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		log.Warn().Err(err).Str("param", paramName).Msg("Session token not available from SSM, gateway sources disabled")
		return false
	}
	os.Setenv(auth.TokenEnv, aws.ToString(result.Parameter.Value))
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Session token loaded from SSM")
	return true
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
