package query

import (
	"testing"

	"github.com/google/uuid"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultPageSize},
		{-5, DefaultPageSize},
		{10, 10},
		{MaxPageSize + 1, MaxPageSize},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAssetFromPath(t *testing.T) {
	account := uuid.New()
	asset, err := assetFromPath(collateralPathPrefix(account) + "WETH")
	if err != nil {
		t.Fatalf("assetFromPath: %v", err)
	}
	if asset != "WETH" {
		t.Errorf("asset: got %s, want WETH", asset)
	}

	if _, err := assetFromPath("system:insurance_fund:USDC"); err == nil {
		t.Error("expected error for system account path")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a_b%c\`); got != `a\_b\%c\\` {
		t.Errorf("escapeLike: got %s", got)
	}
}

func TestCacheKeys_Distinct(t *testing.T) {
	a := uuid.New()
	if balancesKey(a) == positionsKey(a) {
		t.Error("balance and position keys collide")
	}
}
