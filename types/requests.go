package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// VerifyAuthRequest carries a signed challenge back from the client. The
// signed message must contain a line matching `Nonce:\s*(.+)`. PublicKey is
// required for the Arweave (RSA modulus, base64url) and Cosmos (compressed
// secp256k1, base64) chain types and ignored elsewhere.
type VerifyAuthRequest struct {
	ChainType     ChainType `json:"chainType" validate:"required"`
	SignedMessage string    `json:"signedMessage" validate:"required"`
	Signature     string    `json:"signature" validate:"required"`
	PublicKey     string    `json:"publicKey,omitempty"`
}

// Validate checks the request shape before any cryptography runs.
func (r *VerifyAuthRequest) Validate() error {
	if !r.ChainType.Valid() {
		return NewConfigurationError("unsupported chain type %q", r.ChainType)
	}
	return validate.Struct(r)
}

// EstimateRequest asks for the cost of storing Size bytes paid in the given
// token.
type EstimateRequest struct {
	Size      int64     `json:"size" validate:"required,gt=0"`
	Ticker    string    `json:"tokenTicker" validate:"required"`
	ChainType ChainType `json:"chainType" validate:"required"`
	ChainID   string    `json:"chainId" validate:"required"`
	Network   Network   `json:"network" validate:"required"`
}

// Validate checks the request shape.
func (r *EstimateRequest) Validate() error {
	if !r.ChainType.Valid() {
		return NewConfigurationError("unsupported chain type %q", r.ChainType)
	}
	return validate.Struct(r)
}

// CreateUploadRequest opens a chunked upload against a whitelisted token.
type CreateUploadRequest struct {
	FileName    string  `json:"fileName" validate:"required"`
	MimeType    string  `json:"mimeType,omitempty"`
	Size        int64   `json:"size" validate:"required,gt=0"`
	TotalChunks int     `json:"totalChunks" validate:"required,gt=0"`
	Ticker      string  `json:"tokenTicker" validate:"required"`
	ChainID     string  `json:"chainId" validate:"required"`
	Network     Network `json:"network" validate:"required"`
	Tags        []Tag   `json:"tags,omitempty"`
}

// Validate checks the request shape.
func (r *CreateUploadRequest) Validate() error {
	return validate.Struct(r)
}

// SubmitPaymentRequest references the on-chain payment for an upload.
type SubmitPaymentRequest struct {
	UploadID        string `json:"uploadId" validate:"required"`
	TransactionHash string `json:"transactionHash" validate:"required"`
}

// Validate checks the request shape.
func (r *SubmitPaymentRequest) Validate() error {
	return validate.Struct(r)
}

// UploadChunkRequest carries one chunk of file data. CurrentChunk is the
// zero-based index of this chunk and must equal the last accepted index
// plus one.
type UploadChunkRequest struct {
	UploadID     string `json:"uploadId" validate:"required"`
	CurrentChunk int    `json:"currentChunk" validate:"gte=0"`
	TotalChunks  int    `json:"totalChunks" validate:"required,gt=0"`
	Data         []byte `json:"data" validate:"required"`
}

// Validate checks the request shape.
func (r *UploadChunkRequest) Validate() error {
	return validate.Struct(r)
}

// UploadJob is the queue payload for shipping a completed file to the
// storage network. Delivered at least once.
type UploadJob struct {
	RequestID string `json:"requestId"`
	FilePath  string `json:"filePath"`
	Tags      []Tag  `json:"tags"`
}

// FeeJob is the queue payload for extracting the fee share of a completed
// upload. Delivered at least once; FeeTransaction status makes processing
// idempotent.
type FeeJob struct {
	UploadID    string `json:"uploadId"`
	FeeRecordID string `json:"feeRecordId"`
}
