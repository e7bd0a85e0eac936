/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing installs the global TracerProvider that
// internal/claim's otel.Tracer("conductor/claim") (and any other
// package that calls otel.Tracer) resolves against. Without a call to
// Configure, those calls silently no-op against otel's default
// no-op provider; Configure gives them somewhere real to go.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/conductorhq/conductor/internal/apperrors"
)

// Shutdown flushes and releases the provider installed by Configure.
type Shutdown func(ctx context.Context) error

// Configure installs a global TracerProvider for serviceName. When
// enabled is false, it installs a provider with no span processors: spans
// are still created (so call sites need no conditional) but are dropped
// immediately, at effectively zero cost.
func Configure(ctx context.Context, serviceName string, enabled bool) (Shutdown, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnrecoverable, "build otel resource")
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindUnrecoverable, "build stdout trace exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
