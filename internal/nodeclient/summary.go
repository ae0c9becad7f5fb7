package nodeclient

import "math/big"

// TransactionKind is the top-level tag of spec.md §3's Transaction.type.
type TransactionKind string

const (
	KindAccountTransaction   TransactionKind = "AccountTransaction"
	KindCredentialDeployment TransactionKind = "CredentialDeployment"
	KindUpdate               TransactionKind = "Update"
)

// AccountTransactionSubtype is transactions.type_account (spec.md §3).
type AccountTransactionSubtype string

const (
	SubtypeTransfer               AccountTransactionSubtype = "Transfer"
	SubtypeTransferWithSchedule   AccountTransactionSubtype = "TransferWithSchedule"
	SubtypeConfigureBaker         AccountTransactionSubtype = "ConfigureBaker"
	SubtypeConfigureDelegation    AccountTransactionSubtype = "ConfigureDelegation"
	SubtypeAddBaker               AccountTransactionSubtype = "AddBaker"
	SubtypeRemoveBaker            AccountTransactionSubtype = "RemoveBaker"
	SubtypeUpdateCredentialKeys   AccountTransactionSubtype = "UpdateCredentialKeys"
	SubtypeUpdateCredentials      AccountTransactionSubtype = "UpdateCredentials"
)

// BlockItemSummary is the node's per-transaction outcome, the input to the
// event model's conversion function (spec.md §4.2).
type BlockItemSummary struct {
	Index       uint64
	Hash        string
	Kind        TransactionKind
	Subtype     AccountTransactionSubtype // only set when Kind == KindAccountTransaction
	CostMicroCCD *big.Int
	Details     SummaryDetails
}

// SummaryDetails is a closed union of the node-reported outcome shapes that
// feed EventsFromSummary. Exactly one field is non-nil, selected by Kind
// (and Subtype for account transactions).
type SummaryDetails struct {
	AccountCreation     *AccountCreationDetails
	Transfer            *TransferDetails
	TransferWithSchedule *TransferWithScheduleDetails
	BakerConfigured     *BakerConfiguredDetails
	DelegationConfigured *DelegationConfiguredDetails
	CredentialKeysUpdated *CredentialKeysUpdatedDetails
	CredentialsUpdated  *CredentialsUpdatedDetails
	ChainUpdate         *ChainUpdateDetails
	TokenCreation       *TokenCreationDetails
	TokenHolderUpdate   *TokenHolderUpdateDetails
	TokenGovernanceUpdate *TokenGovernanceUpdateDetails
	Rejected            *RejectedDetails
}

type AccountCreationDetails struct {
	RegID   string
	Address string
}

type TransferDetails struct {
	From, To string
	AmountMicroCCD *big.Int
	Memo           []byte // nil when absent
}

type TransferWithScheduleDetails struct {
	From, To string
	TotalMicroCCD *big.Int
	Memo          []byte
}

// BakerConfiguredDetails carries the ordered sub-events emitted by a single
// ConfigureBaker transaction (added, removed, stake changes).
type BakerConfiguredDetails struct {
	BakerID BakerID
	Added   bool
	Removed bool
	NewStakeMicroCCD *big.Int
	StakeIncreased   bool
	StakeDecreased   bool
}

// DelegationConfiguredDetails carries the ordered sub-events emitted by a
// single ConfigureDelegation transaction.
type DelegationConfiguredDetails struct {
	DelegatorID       AccountID
	Added             bool
	Removed           bool
	SetTarget         *DelegationTarget
	SetRestake        *bool
	NewStakeMicroCCD  *big.Int
	StakeIncreased    bool
	StakeDecreased    bool
}

type CredentialKeysUpdatedDetails struct {
	CredID string
}

type CredentialsUpdatedDetails struct {
	Address        string
	NewCredIDs     []string
	RemovedCredIDs []string
	NewThreshold   uint8
}

// ChainUpdateDetails carries a raw chain-update payload, the tag plus its
// node-encoded body (the spec leaves the payload opaque, §4.2).
type ChainUpdateDetails struct {
	EffectiveTime int64
	PayloadTag    string
	PayloadJSON   []byte
}

type TokenCreationDetails struct {
	ContractIndex, ContractSubIndex uint64
	TokenID                         string
	TokenAddress                    string
	MetadataURL                     *string
	RawTotalSupply                  string // decimal string, arbitrary precision
	GovernanceEvents                []TokenGovernanceUpdateDetails
}

type TokenHolderUpdateDetails struct {
	TokenID   string
	EventType string
	DetailsCBOR []byte
}

type TokenGovernanceUpdateDetails struct {
	TokenID   string
	Action    string
	DetailsCBOR []byte
}

// RejectedDetails covers a reject-reason transaction outcome; the event
// model still emits a fee row but no success events.
type RejectedDetails struct {
	Reason string
}
