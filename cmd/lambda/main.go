package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/TheMichaelB/finsync/internal/lambda/handler"
)

// Global handler instance for reuse across warm starts
var h *handler.Handler

func init() {
	var err error
	h, err = handler.NewHandler(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}
}

func handleRequest(ctx context.Context, event handler.Event) (handler.Response, error) {
	resp, err := h.ProcessEvent(ctx, event)
	if err != nil {
		return handler.Response{
			Success: false,
			Message: "Handler failed",
			Errors:  []string{err.Error()},
		}, nil
	}
	return resp, nil
}

func main() {
	lambda.Start(handleRequest)
}
