package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota

	// System sub-types
	SubTypeSystemClearing      // counterparty for realized PnL, funding and maker fees
	SubTypeSystemInsuranceFund // may go negative: systemic deficit

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID is a closed enumeration of the collateral assets the vault accepts.
type AssetID uint16

const (
	AssetUnknown AssetID = iota
	AssetUSDC
	AssetWETH
	AssetWBTC
)

// AssetKind tags an asset as the settlement asset or as non-settlement
// collateral that is valued through the oracle.
type AssetKind uint8

const (
	AssetKindSettlement AssetKind = iota
	AssetKindCollateral
)

// SettlementAsset is the asset all PnL, funding, fees and bad debt settle in.
const SettlementAsset = AssetUSDC

type assetInfo struct {
	name string
	kind AssetKind
}

var (
	assets = map[AssetID]assetInfo{
		AssetUSDC: {name: "USDC", kind: AssetKindSettlement},
		AssetWETH: {name: "WETH", kind: AssetKindCollateral},
		AssetWBTC: {name: "WBTC", kind: AssetKindCollateral},
	}
	assetToID = map[string]AssetID{
		"USDC": AssetUSDC,
		"WETH": AssetWETH,
		"WBTC": AssetWBTC,
	}
)

// AllAssets lists the enumerated assets in id order.
func AllAssets() []AssetID {
	return []AssetID{AssetUSDC, AssetWETH, AssetWBTC}
}

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	info, ok := assets[id]
	return info.name, ok
}

func (id AssetID) String() string {
	if name, ok := GetAssetName(id); ok {
		return name
	}
	return fmt.Sprintf("asset(%d)", uint16(id))
}

// Kind reports the asset's tag. Unknown assets report ok=false.
func (id AssetID) Kind() (AssetKind, bool) {
	info, ok := assets[id]
	return info.kind, ok
}

func (id AssetID) IsSettlement() bool {
	return id == SettlementAsset
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// UserCollateral is shorthand for the user's collateral account of an asset.
func UserCollateral(userID uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(userID, SubTypeCollateral, assetID)
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// InsuranceFundAccount and ClearingAccount are the two system accounts of the
// settlement asset.
var (
	InsuranceFundAccount = NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, SettlementAsset)
	ClearingAccount      = NewSystemAccountKey("clearing", SubTypeSystemClearing, SettlementAsset)
)

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// UserID returns the owning user for user-scoped keys.
func (k AccountKey) UserID() (uuid.UUID, bool) {
	if k.Scope != AccountScopeUser {
		return uuid.Nil, false
	}
	return uuid.UUID(k.EntityID), true
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName := k.AssetID.String()

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeSystemClearing:
		return "clearing"
	case SubTypeSystemInsuranceFund:
		return "insurance_fund"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

var subTypeNames = map[string]AccountSubType{
	"collateral":     SubTypeCollateral,
	"clearing":       SubTypeSystemClearing,
	"insurance_fund": SubTypeSystemInsuranceFund,
	"deposits":       SubTypeExternalDeposits,
	"withdrawals":    SubTypeExternalWithdrawals,
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	bad := fmt.Errorf("invalid account path %q", path)

	asset := func(name string) (AssetID, error) {
		id, ok := GetAssetID(name)
		if !ok {
			return AssetUnknown, bad
		}
		return id, nil
	}

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil || parts[2] != "collateral" {
			return AccountKey{}, bad
		}
		id, err := asset(parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return UserCollateral(uid, id), nil

	case len(parts) == 3 && parts[0] == "system":
		id, err := asset(parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		switch parts[1] {
		case "clearing":
			return NewSystemAccountKey("clearing", SubTypeSystemClearing, id), nil
		case "insurance_fund":
			return NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, id), nil
		}
		return AccountKey{}, bad

	case len(parts) == 3 && parts[0] == "external":
		sub, ok := subTypeNames[parts[1]]
		if !ok || (sub != SubTypeExternalDeposits && sub != SubTypeExternalWithdrawals) {
			return AccountKey{}, bad
		}
		id, err := asset(parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		return NewExternalAccountKey(sub, id), nil
	}
	return AccountKey{}, bad
}

// MarshalText lets balance maps keyed by AccountKey encode as JSON objects.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
