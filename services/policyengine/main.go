// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The policy engine mirrors update graphs from graph-builder instances and
// serves per-client filtered views with staged-rollout gating.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/updategraph/pkg/config"
	"github.com/AleutianAI/updategraph/pkg/logging"
	"github.com/AleutianAI/updategraph/services/policyengine/evaluate"
	"github.com/AleutianAI/updategraph/services/policyengine/fetcher"
	"github.com/AleutianAI/updategraph/services/policyengine/observability"
	"github.com/AleutianAI/updategraph/services/policyengine/routes"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("policyengine-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	configPath := os.Getenv("UPDATEGRAPH_CONFIG")
	if configPath == "" {
		configPath = "/etc/updategraph/config.yaml"
	}

	logging.SetupService("policyengine")

	cfg, err := config.Load(configPath, "engine")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scopes := config.Scopes(cfg.Engine.Streams, cfg.Engine.Basearches)
	mirror := fetcher.NewMirror()
	f := fetcher.New(mirror, metrics, fetcher.Options{
		Upstreams:      cfg.Engine.Upstreams,
		Scopes:         scopes,
		FetchInterval:  cfg.Engine.FetchInterval.Std(),
		FetchTimeout:   cfg.Engine.FetchTimeout.Std(),
		StaleThreshold: cfg.Engine.StaleThreshold.Std(),
	})

	go func() {
		if err := f.Run(ctx); err != nil {
			slog.Error("fetcher stopped", "error", err)
		}
	}()

	evaluator := evaluate.New(cfg.Rollout.DefaultDuration.Std())

	router := gin.Default()
	router.Use(otelgin.Middleware("policyengine-service"))
	routes.SetupRoutes(router, mirror, evaluator, metrics, scopes, cfg.Engine.StaleThreshold.Std())

	server := &http.Server{
		Addr:    cfg.Engine.Listen,
		Handler: router,
	}

	go func() {
		slog.Info("starting the policy-engine server", "listen", cfg.Engine.Listen,
			"upstreams", len(cfg.Engine.Upstreams), "scopes", len(scopes))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
