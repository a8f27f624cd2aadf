package service

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrForbidden           = errors.New("permission denied")
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInvalidAccountInput = errors.New("external user id, name and group are required")
	ErrNoAccounts          = errors.New("no accounts matched")
	ErrGroupNotFound       = errors.New("group not found")
	ErrGroupExists         = errors.New("group already exists")
	ErrGroupNameRequired   = errors.New("group name required")
	ErrGroupNotEmpty       = errors.New("group still has accounts")
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameExists      = errors.New("username already exists")
	ErrUsernameRequired    = errors.New("username required")
	ErrInvalidRole         = errors.New("invalid role")
	ErrWeakPassword        = errors.New("password too weak")
	ErrLastAdmin           = errors.New("cannot remove the last admin")
	ErrCookiesRequired     = errors.New("cookies required")
	ErrCookieExpired       = errors.New("cookies expired")
	ErrUpstreamRejected    = errors.New("upstream returned an error code")
	ErrInvalidPeriods      = errors.New("settlement periods required")
	ErrJobIDsRequired      = errors.New("job ids required")
)
