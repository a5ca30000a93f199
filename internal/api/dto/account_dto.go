package dto

type OpenAccountRequest struct {
	AccountID      string `json:"account_id" binding:"required"`
	InitialCredits int64  `json:"initial_credits" binding:"gte=0"`
}

// CreditRequest is used for both credits and admin debits
type CreditRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type ReceiptResponse struct {
	AccountID     string `json:"account_id"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type LedgerEntryDTO struct {
	EntryID      string `json:"entry_id"`
	Amount       int64  `json:"amount"`
	Kind         string `json:"kind"`
	Description  string `json:"description"`
	BalanceAfter int64  `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

type LedgerResponse struct {
	AccountID string           `json:"account_id"`
	Entries   []LedgerEntryDTO `json:"entries"`
}
