// Package permapay is a multi-chain identity and payment verification
// engine for permanent storage: wallets authenticate with nonce-challenge
// signatures, storage costs are quoted in whitelisted tokens, payments are
// confirmed on chain and completed uploads settle a platform fee from the
// custodial wallets.
package permapay

import (
	"context"
	"os"
	"path/filepath"

	"github.com/permapay/permapay/auth"
	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/payment"
	"github.com/permapay/permapay/pipeline"
	"github.com/permapay/permapay/pricing"
	"github.com/permapay/permapay/queue"
	"github.com/permapay/permapay/settlement"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

// Version information
const Version = "1.0.0"

// Gateway bundles the engine's services behind one construction point.
type Gateway struct {
	cfg      types.Config
	store    store.Store
	registry *chains.Registry
	log      logger.Logger
	metrics  metrics.Recorder

	converter   pricing.Converter
	uploader    pipeline.Uploader
	sink        pipeline.ChunkSink
	uploadQueue queue.Queue
	feeQueue    queue.Queue

	auth      *auth.Service
	estimator *pricing.Estimator
	verifier  *payment.Verifier
	pipeline  *pipeline.Service

	uploadWorker *pipeline.UploadWorker
	feeWorker    *settlement.Worker
}

// New wires a gateway from the typed configuration. Adapters are built for
// every configured chain type; missing collaborators fall back to in-process
// defaults suitable for a single-node deployment.
func New(cfg types.Config, st store.Store, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg.Normalized(),
		store:   st,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.converter == nil {
		g.converter = pricing.NewCoinMarketCap(g.cfg.Price, g.cfg.DefaultTimeout)
	}
	if g.uploadQueue == nil {
		g.uploadQueue = queue.NewMemory(0, g.log)
	}
	if g.feeQueue == nil {
		g.feeQueue = queue.NewMemory(0, g.log)
	}
	if g.sink == nil {
		sink, err := pipeline.NewFileSink(filepath.Join(os.TempDir(), "permapay-uploads"))
		if err != nil {
			return nil, err
		}
		g.sink = sink
	}

	if g.registry == nil {
		registry, err := buildRegistry(g.cfg)
		if err != nil {
			return nil, err
		}
		g.registry = registry
	}

	tokens, err := auth.NewTokenIssuer(g.cfg.Auth)
	if err != nil {
		return nil, err
	}

	g.auth = auth.NewService(st.Identities(), g.registry, tokens, g.log, g.metrics)
	g.estimator = pricing.NewEstimator(g.cfg, g.converter)
	g.verifier = payment.NewVerifier(g.cfg, g.registry, g.log, g.metrics)
	g.pipeline = pipeline.NewService(g.cfg, st, g.verifier, g.estimator, g.sink, g.uploadQueue, g.log, g.metrics)
	g.feeWorker = settlement.NewWorker(g.cfg, st, g.registry, g.feeQueue, g.log, g.metrics)
	if g.uploader != nil {
		g.uploadWorker = pipeline.NewUploadWorker(g.cfg, st, g.uploader, g.sink, g.uploadQueue, g.feeQueue, g.log, g.metrics)
	}

	return g, nil
}

func buildRegistry(cfg types.Config) (*chains.Registry, error) {
	registry := chains.NewRegistry()
	for ct, chainCfg := range cfg.Chains {
		switch ct {
		case types.ChainEVM:
			registry.Register(chains.NewEVM(chainCfg))
		case types.ChainSolana:
			registry.Register(chains.NewSolana(chainCfg))
		case types.ChainArweave:
			registry.Register(chains.NewArweave(cfg.ArweaveGateway, cfg.DefaultTimeout))
		case types.ChainCosmos:
			registry.Register(chains.NewCosmos(chainCfg))
		default:
			return nil, types.NewConfigurationError("unsupported chain type %q in configuration", ct)
		}
	}
	return registry, nil
}

// GenerateNonce issues an authentication challenge nonce for a wallet.
func (g *Gateway) GenerateNonce(ctx context.Context, walletAddress string, chainType types.ChainType, chainID string) (string, error) {
	return g.auth.GenerateNonce(ctx, walletAddress, chainType, chainID)
}

// VerifyWallet verifies a signed challenge and issues session tokens.
func (g *Gateway) VerifyWallet(ctx context.Context, walletAddress string, req types.VerifyAuthRequest) (types.Identity, types.SessionTokens, error) {
	return g.auth.VerifyWallet(ctx, walletAddress, req)
}

// RefreshSession rotates a session from its refresh token.
func (g *Gateway) RefreshSession(refreshToken string) (types.SessionTokens, error) {
	return g.auth.RefreshSession(refreshToken)
}

// Estimate quotes the cost of storing a blob in a whitelisted token.
func (g *Gateway) Estimate(ctx context.Context, req types.EstimateRequest) (pricing.Estimate, error) {
	return g.estimator.Estimate(ctx, req)
}

// CreateUpload opens a chunked upload with a frozen payment quote.
func (g *Gateway) CreateUpload(ctx context.Context, walletAddress string, req types.CreateUploadRequest) (types.UploadRequest, types.PaymentTransaction, error) {
	return g.pipeline.CreateUpload(ctx, walletAddress, req)
}

// GetUpload returns an upload's current state, owner-scoped.
func (g *Gateway) GetUpload(ctx context.Context, walletAddress, uploadID string) (types.UploadRequest, error) {
	return g.pipeline.GetUpload(ctx, walletAddress, uploadID)
}

// SubmitPayment confirms an upload's payment on chain and issues the
// upload's receipt.
func (g *Gateway) SubmitPayment(ctx context.Context, walletAddress string, req types.SubmitPaymentRequest) (types.Receipt, error) {
	return g.pipeline.SubmitPayment(ctx, walletAddress, req)
}

// IngestChunk accepts the next chunk of a paid upload.
func (g *Gateway) IngestChunk(ctx context.Context, walletAddress string, req types.UploadChunkRequest) (types.UploadRequest, error) {
	return g.pipeline.IngestChunk(ctx, walletAddress, req)
}

// RunWorkers runs the background upload and fee workers until the context
// is cancelled. An uploader must be configured with WithUploader.
func (g *Gateway) RunWorkers(ctx context.Context) error {
	if g.uploadWorker == nil {
		return types.NewConfigurationError("no uploader configured; workers cannot run")
	}
	errc := make(chan error, 2)
	go func() { errc <- g.uploadWorker.Run(ctx) }()
	go func() { errc <- g.feeWorker.Run(ctx) }()
	return <-errc
}

// Close releases chain clients and queue connections.
func (g *Gateway) Close() {
	g.registry.Close()
	if err := g.uploadQueue.Close(); err != nil {
		g.log.Warn("closing upload queue", map[string]any{"error": err.Error()})
	}
	if err := g.feeQueue.Close(); err != nil {
		g.log.Warn("closing fee queue", map[string]any{"error": err.Error()})
	}
}
