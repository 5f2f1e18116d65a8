package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// config holds the options shared by the telemetry decorators.
type config struct {
	// Attributes holds default attributes for each span created by the
	// decorator.
	Attributes []attribute.KeyValue

	// GetAttributes optionally extracts extra span attributes from the
	// context at call time.
	GetAttributes func(ctx context.Context) []attribute.KeyValue
}

// Option configures a telemetry decorator.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) { o(c) }

// WithAttributes sets default attributes for the spans the decorator creates.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(c *config) {
		c.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(c *config) {
		c.GetAttributes = fn
	})
}
