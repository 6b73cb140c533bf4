// main package for the local development server. It exposes the Lambda
// handler over plain HTTP so the browser client can run against it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/book-expert/tts-lambda/internal/app"
)

const (
	routePath         = "/tts"
	maxBodyBytes      = 1 << 20
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// eventHandler is satisfied by handler.Handler.
type eventHandler interface {
	Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error)
}

// newMux routes /tts to the handler, converting each request into a REST API style event.
func newMux(h eventHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(routePath, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)

			return
		}

		event := events.APIGatewayProxyRequest{
			HTTPMethod: r.Method,
			Path:       r.URL.Path,
			Body:       string(body),
		}

		raw, err := json.Marshal(event)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		resp, err := h.Handle(r.Context(), raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	})

	return mux
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ttsApp, err := app.New(ctx, "tts-local.log")
	if err != nil {
		return err
	}

	defer func() {
		closeErr := ttsApp.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing handler resources: %v\n", closeErr)
		}
	}()

	server := &http.Server{
		Addr:              ttsApp.Config.Local.Addr,
		Handler:           newMux(ttsApp.Handler),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		ttsApp.Log.System("Local TTS server listening on %s%s", server.Addr, routePath)
		errChan <- server.ListenAndServe()
	}()

	select {
	case err = <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("local server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down local server: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
