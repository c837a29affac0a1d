package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy of the errno carrying a more specific message.
// The code is preserved so callers can still classify the error.
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// Is makes errors.Is match on the code only, so that
// errors.Is(err, errno.ErrNonceConflict) also matches WithMessage copies.
func (e Errno) Is(target error) bool {
	t, ok := target.(Errno)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Vault / Session Errors (20100+)
var (
	ErrNoWalletFound = Errno{Code: 20101, Message: "Wallet not found"}
	// ErrInvalidPassword 同时覆盖 "密码错误" 与 "Vault 数据损坏" 两种情况。
	// 二者必须不可区分，否则会向调用方泄露 Vault 是否完好。
	ErrInvalidPassword = Errno{Code: 20102, Message: "Invalid password"}
	ErrWalletLocked    = Errno{Code: 20103, Message: "Wallet is locked"}
	ErrWalletExists    = Errno{Code: 20104, Message: "Wallet already exists"}
	ErrInvalidMnemonic = Errno{Code: 20105, Message: "Invalid mnemonic"}
	ErrInvalidKey      = Errno{Code: 20106, Message: "Invalid private key"}
)

// Transaction Errors (20200+)
var (
	ErrInvalidRecipient    = Errno{Code: 20201, Message: "Invalid recipient address"}
	ErrInvalidAmount       = Errno{Code: 20202, Message: "Invalid amount"}
	ErrInsufficientBalance = Errno{Code: 20203, Message: "Insufficient balance"}
	ErrNonceConflict       = Errno{Code: 20204, Message: "Nonce conflict"}
	ErrLedgerRejected      = Errno{Code: 20205, Message: "Transaction rejected by ledger"}
	ErrUnknownToken        = Errno{Code: 20206, Message: "Unknown token"}
	ErrNonceNotSynced      = Errno{Code: 20207, Message: "Nonce not synced"}
)

// Action Queue Errors (20300+)
var (
	ErrActionNotFound       = Errno{Code: 20301, Message: "Action not found"}
	ErrActionNotPending     = Errno{Code: 20302, Message: "Action is not pending"}
	ErrActionNotCancellable = Errno{Code: 20303, Message: "Action already approved and cannot be cancelled"}
	ErrExclusivityViolation = Errno{Code: 20304, Message: "Another exclusive action is in flight"}
	ErrApprovalExpired      = Errno{Code: 20305, Message: "Approval context is no longer pending"}
	ErrDuplicateContext     = Errno{Code: 20306, Message: "Duplicate approval context"}
)

// RPC Errors (20400+)
var (
	ErrUnauthorizedSender = Errno{Code: 20401, Message: "Sender origin is not trusted"}
	ErrUnknownCommand     = Errno{Code: 20402, Message: "Unknown command type"}
)
