package types

import (
	"time"
)

// Identity is one wallet known to the system. ChainType is immutable once
// set. The nonce field cycles between set (issued by GenerateNonce) and
// cleared (consumed by a successful signature verification); the identity
// itself is never deleted.
type Identity struct {
	ID            int64     `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	ChainType     ChainType `json:"chainType"`
	ChainID       string    `json:"chainId"`
	Role          string    `json:"role"`

	Nonce         string    `json:"nonce,omitempty"`
	NonceIssuedAt time.Time `json:"nonceIssuedAt,omitempty"`
	LastSignature string    `json:"lastSignature,omitempty"`
}

// TransactionStatus is shared by payment and fee transactions.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxSucceeded TransactionStatus = "SUCCEEDED"
	TxFailed    TransactionStatus = "FAILED"
)

// PaymentTransaction records one expected payment. Amounts are immutable
// after creation; re-estimation creates a new record.
type PaymentTransaction struct {
	ID               string            `json:"id"`
	UserWallet       string            `json:"userWallet"`
	TokenID          string            `json:"tokenId"`
	Amount           string            `json:"amount"`
	AmountInSubUnits string            `json:"amountInSubUnits"`
	TransactionHash  string            `json:"transactionHash,omitempty"`
	Status           TransactionStatus `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// UploadStatus is the upload state machine. Transitions are strictly
// NOT_STARTED -> IN_PROGRESS -> COMPLETED.
type UploadStatus string

const (
	UploadNotStarted UploadStatus = "NOT_STARTED"
	UploadInProgress UploadStatus = "IN_PROGRESS"
	UploadCompleted  UploadStatus = "COMPLETED"
)

// UploadRequest tracks a chunked upload. CurrentChunk advances by exactly
// one per accepted chunk; -1 means no chunk has been accepted yet.
type UploadRequest struct {
	ID                   string       `json:"id"`
	UserWallet           string       `json:"userWallet"`
	PaymentTransactionID string       `json:"paymentTransactionId"`
	FileName             string       `json:"fileName"`
	MimeType             string       `json:"mimeType,omitempty"`
	Size                 int64        `json:"size"`
	Status               UploadStatus `json:"status"`
	CurrentChunk         int          `json:"currentChunk"`
	TotalChunks          int          `json:"totalChunks"`
	ContentID            string       `json:"contentId,omitempty"`
	Tags                 []Tag        `json:"tags,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
}

// Tag is a name/value pair attached to uploaded content.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ReceiptStatus marks whether the paid upload has finished.
type ReceiptStatus string

const (
	ReceiptPaid      ReceiptStatus = "PAID"
	ReceiptCompleted ReceiptStatus = "COMPLETED"
)

// Receipt is unique per upload; a second creation attempt for the same
// upload is rejected, never upserted.
type Receipt struct {
	ID         string        `json:"id"`
	UploadID   string        `json:"uploadId"`
	TokenID    string        `json:"tokenId"`
	UserWallet string        `json:"userWallet"`
	Status     ReceiptStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// FeeTransaction is derived from the payment transaction of a completed
// upload by applying the configured fee percentage. Created once per upload;
// its status field is the idempotency guard for fee settlement.
type FeeTransaction struct {
	ID               string            `json:"id"`
	UploadID         string            `json:"uploadId"`
	Amount           string            `json:"amount"`
	AmountInSubUnits string            `json:"amountInSubUnits"`
	Status           TransactionStatus `json:"status"`
	TransactionHash  string            `json:"transactionHash,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// Token describes one payable token on one chain. Address is the contract
// address for contract tokens and empty for native currency. Cosmos tokens
// must set Denom to the on-chain denomination (e.g. "uatom"); transfer
// amounts on Cosmos are matched as "<subunits><denom>".
type Token struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	ChainType ChainType `json:"chainType"`
	ChainID   string    `json:"chainId"`
	Network   Network   `json:"network"`
	Address   string    `json:"address,omitempty"`
	Denom     string    `json:"denom,omitempty"`
	Decimals  int32     `json:"decimals"`
}

// Native reports whether the token is the chain's native currency.
func (t Token) Native() bool { return t.Address == "" }

// SessionTokens is an access/refresh pair issued after a successful
// signature verification.
type SessionTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
