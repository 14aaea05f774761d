package permapay

import (
	"time"

	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/pipeline"
	"github.com/permapay/permapay/pricing"
	"github.com/permapay/permapay/queue"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = r
	}
}

// WithTimeout overrides the default timeout for outbound HTTP and RPC
// calls. Zero or negative values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.cfg.DefaultTimeout = d
		}
	}
}

// WithConverter overrides the price feed used for token conversion.
func WithConverter(c pricing.Converter) Option {
	return func(g *Gateway) {
		g.converter = c
	}
}

// WithUploader provides the storage-network uploader the workers need.
func WithUploader(u pipeline.Uploader) Option {
	return func(g *Gateway) {
		g.uploader = u
	}
}

// WithChunkSink overrides the staging area for in-flight uploads.
func WithChunkSink(s pipeline.ChunkSink) Option {
	return func(g *Gateway) {
		g.sink = s
	}
}

// WithUploadQueue overrides the upload job queue, e.g. with a Redis-backed
// one for multi-node deployments.
func WithUploadQueue(q queue.Queue) Option {
	return func(g *Gateway) {
		g.uploadQueue = q
	}
}

// WithFeeQueue overrides the fee job queue.
func WithFeeQueue(q queue.Queue) Option {
	return func(g *Gateway) {
		g.feeQueue = q
	}
}

// WithRegistry overrides the chain adapter registry entirely, bypassing
// construction from the configuration.
func WithRegistry(r *chains.Registry) Option {
	return func(g *Gateway) {
		g.registry = r
	}
}
