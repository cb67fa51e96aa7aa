package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/jobs"
)

// lambdaInvoker is the part of *lambdasvc.Client used for dispatch.
type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// bundleDispatcher sends batches to the bundle Lambda asynchronously.
// InvocationType=Event returns as soon as the event is queued.
func bundleDispatcher(client lambdaInvoker, functionArn string) dispatcher {
	return func(ctx context.Context, ev jobs.BundleEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal bundle event: %w", err)
		}

		log.Debug().Int("payloadSize", len(payload)).Str("batch", ev.BatchID).Msg("Invoking bundle Lambda asynchronously")

		_, err = client.Invoke(ctx, &lambdasvc.InvokeInput{
			FunctionName:   aws.String(functionArn),
			InvocationType: lambdatypes.InvocationTypeEvent,
			Payload:        payload,
		})
		if err != nil {
			log.Error().Err(err).Str("batch", ev.BatchID).Msg("Failed to invoke bundle Lambda")
			return fmt.Errorf("invoke bundle lambda: %w", err)
		}
		log.Info().Str("batch", ev.BatchID).Msg("Bundle Lambda invoked")
		return nil
	}
}
