package domain

import "errors"

// Storage and infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidConfig = errors.New("invalid market configuration")
	ErrInvalidInput  = errors.New("invalid input")
)

// Market engine errors. Every one of them is recoverable by the caller and
// leaves persistent state untouched.
var (
	ErrZeroUnits                 = errors.New("vote units must be positive")
	ErrPostNotOpen               = errors.New("post is not open")
	ErrPostExpired               = errors.New("post voting window has elapsed")
	ErrPostNotExpired            = errors.New("post voting window has not elapsed")
	ErrPostNotSettled            = errors.New("post is not settled")
	ErrPostAlreadySettled        = errors.New("post already settled for this currency")
	ErrNoWinner                  = errors.New("post has no winning side")
	ErrAlreadyClaimed            = errors.New("reward already claimed")
	ErrMathOverflow              = errors.New("math overflow")
	ErrMintNotEnabled            = errors.New("currency not registered or disabled")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrSessionExpired            = errors.New("session expired")
	ErrInvalidSignature          = errors.New("invalid session signature")
	ErrInvalidSessionExpiry      = errors.New("invalid session expiry")
	ErrInvalidParentPost         = errors.New("invalid parent post")
	ErrInvalidRelation           = errors.New("invalid post relation")
	ErrAnswerMustTargetQuestion  = errors.New("answer must target a question")
	ErrAnswerTargetNotRoot       = errors.New("answer target must be a root post")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrZeroAmount                = errors.New("amount must be positive")
	ErrCannotSendToSelf          = errors.New("cannot send to self")
	ErrTokenNotWithdrawable      = errors.New("currency is not withdrawable")
	ErrBaseCurrencyAlternative   = errors.New("base currency cannot be an alternative payment")
	ErrCurrencyAlreadyRegistered = errors.New("currency already registered")
	ErrInvalidRate               = errors.New("currency price must be positive")
	ErrMarketNotInitialized      = errors.New("market not initialized")
	ErrMarketInitialized         = errors.New("market already initialized")
)
