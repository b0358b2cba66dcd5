package models

import "time"

// LogEntry is an undecoded event log as returned by a provider
type LogEntry struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex int      `json:"logIndex"`
}

// TokenTransferHint is a transfer a provider has already decoded. It also
// carries token metadata the classifier can reuse.
type TokenTransferHint struct {
	TokenAddress string `json:"tokenAddress"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	Symbol       string `json:"symbol,omitempty"`
	Name         string `json:"name,omitempty"`
	Decimals     *int   `json:"decimals,omitempty"`
	LogIndex     int    `json:"logIndex"`
}

// NativeTransfer is a native-asset movement, including internal transactions
type NativeTransfer struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// RawTransaction is a transaction as received from a provider. It is never
// mutated after decoding.
type RawTransaction struct {
	Hash            string              `json:"hash"`
	From            string              `json:"from"`
	To              string              `json:"to"`
	Value           string              `json:"value"`
	Gas             string              `json:"gas"`
	GasPrice        string              `json:"gasPrice"`
	GasUsed         string              `json:"gasUsed"`
	BlockNumber     uint64              `json:"blockNumber"`
	Timestamp       time.Time           `json:"timestamp"`
	Input           string              `json:"input"`
	MethodLabel     string              `json:"methodLabel,omitempty"`
	Failed          bool                `json:"failed"`
	Logs            []LogEntry          `json:"logs,omitempty"`
	TokenTransfers  []TokenTransferHint `json:"tokenTransfers,omitempty"`
	NativeTransfers []NativeTransfer    `json:"nativeTransfers,omitempty"`
}

// TransactionPage is one page of raw history
type TransactionPage struct {
	Transactions []RawTransaction
	NextCursor   string
	Total        int
	Source       string
}

// Direction of a transfer relative to the queried wallet
type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionSelf  Direction = "self"
	DirectionOther Direction = "other"
)

// TransferEvent is a decoded token or native movement
type TransferEvent struct {
	TokenAddress string    `json:"tokenAddress"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	RawValue     string    `json:"rawValue"`
	Direction    Direction `json:"direction"`
	IsNative     bool      `json:"isNative"`
	LogIndex     int       `json:"logIndex"`
}

// TransactionCategory is the human-meaningful kind of a transaction
type TransactionCategory string

const (
	CategoryApproval        TransactionCategory = "approval"
	CategoryAddLiquidity    TransactionCategory = "add_liquidity"
	CategoryRemoveLiquidity TransactionCategory = "remove_liquidity"
	CategoryStake           TransactionCategory = "stake"
	CategoryUnstake         TransactionCategory = "unstake"
	CategorySwap            TransactionCategory = "swap"
	CategorySend            TransactionCategory = "send"
	CategoryReceive         TransactionCategory = "receive"
	CategoryContract        TransactionCategory = "contract"
)

// TokenAmount is one leg of a classified transaction
type TokenAmount struct {
	TokenAddress string `json:"tokenAddress"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name,omitempty"`
	Decimals     int    `json:"decimals"`
	RawValue     string `json:"rawValue"`
	Amount       string `json:"amount"`
	From         string `json:"from"`
	To           string `json:"to"`
	IsNative     bool   `json:"isNative"`
}

// SwapDetail is the first outgoing and first incoming leg of a swap
type SwapDetail struct {
	Sold   TokenAmount `json:"sold"`
	Bought TokenAmount `json:"bought"`
}

// ClassifiedTransaction annotates a RawTransaction without altering it
type ClassifiedTransaction struct {
	RawTransaction
	Category       TransactionCategory `json:"category"`
	Label          string              `json:"label"`
	MethodSelector string              `json:"methodSelector,omitempty"`
	Sent           []TokenAmount       `json:"sent"`
	Received       []TokenAmount       `json:"received"`
	Swap           *SwapDetail         `json:"swap,omitempty"`
}

// TransactionHistory is the result of a history request
type TransactionHistory struct {
	Address      string                  `json:"address"`
	Transactions []ClassifiedTransaction `json:"transactions"`
	NextCursor   string                  `json:"nextCursor,omitempty"`
	Total        int                     `json:"total"`
	Source       string                  `json:"source,omitempty"`
	Status       SnapshotStatus          `json:"status"`
	Error        string                  `json:"error,omitempty"`
	Cached       bool                    `json:"cached"`
}

// Progress is a UI-facing progress report for a long wallet aggregation
type Progress struct {
	Status       string    `json:"status"`
	CurrentBatch int       `json:"currentBatch"`
	TotalBatches int       `json:"totalBatches"`
	Message      string    `json:"message"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const (
	ProgressFetchingBalances = "fetching_balances"
	ProgressFetchingPrices   = "fetching_prices"
	ProgressComplete         = "complete"
	ProgressFailed           = "failed"
)

// LogoEntry is a persisted token logo reference
type LogoEntry struct {
	Address   string    `json:"address" bson:"address"`
	URL       string    `json:"url" bson:"url"`
	Source    string    `json:"source" bson:"source"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}
