// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The graph-builder scrapes release metadata from the object store,
// assembles the annotated update graph per stream/basearch, and serves it
// over HTTP.
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
	"github.com/AleutianAI/updategraph/services/graphbuilder/cache"
	"github.com/AleutianAI/updategraph/services/graphbuilder/observability"
	"github.com/AleutianAI/updategraph/services/graphbuilder/routes"
	"github.com/AleutianAI/updategraph/services/graphbuilder/scraper"
	"github.com/AleutianAI/updategraph/services/graphbuilder/source"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("graphbuilder-service")))
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

	logging.SetupService("graphbuilder")

	cfg, err := config.Load(configPath, "builder")
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

	src, err := source.NewGCSSource(ctx, source.GCSOptions{
		Bucket:            cfg.Builder.Source.Bucket,
		Prefix:            cfg.Builder.Source.Prefix,
		CredentialsFile:   cfg.Builder.Source.CredentialsFile,
		FetchTimeout:      cfg.Builder.FetchTimeout.Std(),
		RequestsPerSecond: cfg.Builder.Source.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf("failed to create release source: %v", err)
	}

	scopes := config.Scopes(cfg.Builder.Streams, cfg.Builder.Basearches)
	snapshots := cache.New()
	scr := scraper.New(src, snapshots, scopes, cfg.Builder.RefreshInterval.Std(), metrics)

	go func() {
		if err := scr.Run(ctx); err != nil {
			slog.Error("scraper stopped", "error", err)
		}
	}()

	router := gin.Default()
	router.Use(otelgin.Middleware("graphbuilder-service"))
	routes.SetupRoutes(router, snapshots, scr, scopes)

	server := &http.Server{
		Addr:    cfg.Builder.Listen,
		Handler: router,
	}

	go func() {
		slog.Info("starting the graph-builder server", "listen", cfg.Builder.Listen,
			"scopes", len(scopes))
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
