// main package for the tts-lambda function
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/book-expert/tts-lambda/internal/app"
)

func main() {
	ttsApp, err := app.New(context.Background(), "tts-lambda.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	// Clients are built once per container and reused by every invocation.
	lambda.StartWithOptions(
		ttsApp.Handler.Handle,
		lambda.WithEnableSIGTERM(func() {
			closeErr := ttsApp.Close()
			if closeErr != nil {
				fmt.Fprintf(os.Stderr, "error closing handler resources: %v\n", closeErr)
			}
		}),
	)
}
