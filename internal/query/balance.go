package query

import (
	"fmt"
	"strings"

	"PerpClearing/internal/ledger"

	"github.com/google/uuid"
)

// BalanceResponse is the projected collateral of one account per asset.
// Margin figures (free collateral, margin ratio) depend on live prices and
// are served by the engine views, not the projections.
type BalanceResponse struct {
	Account      uuid.UUID        `json:"account"`
	Balances     map[string]int64 `json:"balances"` // asset name -> amount
	AsOfSequence int64            `json:"as_of_sequence"`
}

func collateralPathPrefix(account uuid.UUID) string {
	return fmt.Sprintf("user:%s:collateral:", account)
}

// assetFromPath returns the asset name of a user collateral path.
func assetFromPath(path string) (string, error) {
	key, err := ledger.ParseAccountPath(path)
	if err != nil {
		return "", err
	}
	if _, ok := key.UserID(); !ok {
		return "", fmt.Errorf("not a user account: %s", path)
	}
	return key.AssetID.String(), nil
}

// escapeLike quotes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
