package vault

import "errors"

var (
	ErrInvalidAsset               = errors.New("invalid asset")
	ErrInsufficientFreeCollateral = errors.New("insufficient free collateral")
	ErrNoIndexPrice               = errors.New("no index price")
	errReadOnly                   = errors.New("vault view is read-only")
)
