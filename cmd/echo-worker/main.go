package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minhvt/portal-be/shared/logger"
)

// echo-worker is a reference external worker for local development: it
// accepts the portal's dispatch webhook, pretends to compute for a bit and
// posts the result back through the authenticated callback endpoint. It
// closes the dispatch -> callback loop without a real AI backend.

type webhookRequest struct {
	JobID   string          `json:"job_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type callbackRequest struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Result string `json:"result"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	listen := flag.String("listen", envOr("ECHO_WORKER_LISTEN", ":9090"), "Listen address")
	portalURL := flag.String("portal", envOr("ECHO_WORKER_PORTAL_URL", "http://localhost:8080"), "Portal service base URL")
	responseToken := flag.String("response-token", os.Getenv("ECHO_WORKER_RESPONSE_TOKEN"), "Token sent on callbacks")
	delay := flag.Duration("delay", 2*time.Second, "Simulated processing time")
	flag.Parse()

	appLogger := logger.NewDefault()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	client := &http.Client{Timeout: 10 * time.Second}

	r.POST("/webhook", func(c *gin.Context) {
		var req webhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook body"})
			return
		}

		appLogger.Info("Webhook received",
			slog.String("job_id", req.JobID),
			slog.String("kind", req.Kind),
		)

		// Accept immediately; the result comes later via callback.
		go process(client, appLogger, *portalURL, *responseToken, *delay, req)

		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	srv := &http.Server{Addr: *listen, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	appLogger.Info("Echo worker is running",
		slog.String("address", *listen),
		slog.String("portal", *portalURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// process simulates the external worker and posts the callback.
func process(client *http.Client, appLogger *logger.Logger, portalURL, token string, delay time.Duration, req webhookRequest) {
	time.Sleep(delay)

	body, err := json.Marshal(callbackRequest{
		JobID:  req.JobID,
		Status: "done",
		Result: fmt.Sprintf("echo of %s payload: %s", req.Kind, req.Payload),
	})
	if err != nil {
		appLogger.Error("Failed to encode callback", slog.Any("error", err))
		return
	}

	url := fmt.Sprintf("%s/api/v1/pipelines/%s/callback", portalURL, req.Kind)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		appLogger.Error("Failed to build callback request", slog.Any("error", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("X-Response-Token", token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		appLogger.Error("Callback failed",
			slog.String("job_id", req.JobID),
			slog.Any("error", err),
		)
		return
	}
	defer resp.Body.Close()

	appLogger.Info("Callback delivered",
		slog.String("job_id", req.JobID),
		slog.Int("status", resp.StatusCode),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
