package bond

import (
	"errors"

	"dualbond/core/sqrtprice"
)

var (
	ErrZeroAmount          = errors.New("bond: amount must be positive")
	ErrIssuanceClosed      = errors.New("bond: issuance window closed")
	ErrCapExceeded         = errors.New("bond: deposit exceeds stable cap")
	ErrNotMatured          = errors.New("bond: not matured")
	ErrInvalidPrice        = sqrtprice.ErrInvalidPrice
	ErrOverflow            = sqrtprice.ErrOverflow
	ErrInsufficientBalance = errors.New("bond: insufficient balance")
	ErrOracleReadFailure   = errors.New("bond: oracle read failed")
	ErrUnauthorized        = errors.New("bond: unauthorized")

	// ErrOracleNotSet is returned when finalisation runs before the owner
	// configured a price pool.
	ErrOracleNotSet = errors.New("bond: price oracle not configured")
	// ErrOracleFrozen is returned when the owner tries to change the pool after
	// maturity.
	ErrOracleFrozen = errors.New("bond: price oracle frozen after maturity")
	// ErrInvalidSchedule flags issuance deadlines past maturity.
	ErrInvalidSchedule = errors.New("bond: issuance deadline after maturity")
	// ErrInvalidParams covers any other rejected program parameter.
	ErrInvalidParams = errors.New("bond: invalid parameters")

	errNilState = errors.New("bond engine: state not configured")
	errNilAsset = errors.New("bond engine: asset not configured")
)
