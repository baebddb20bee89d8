package main

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable reason a run stopped. It is stored on the
// order so polling clients can decide what to do next.
type ErrorCode string

const (
	CodeBrowserConnectionFailed ErrorCode = "browser_connection_failed"
	CodeNavigationFailed        ErrorCode = "navigation_failed"
	CodeGameSelectionFailed     ErrorCode = "game_selection_failed"
	CodeRedeemClickFailed       ErrorCode = "redeem_click_failed"
	CodeLoginFailed             ErrorCode = "login_failed"
	CodeProceedPaymentFailed    ErrorCode = "proceed_payment_failed"
	CodeDiamondSelectionFailed  ErrorCode = "diamond_selection_failed"
	CodeWalletSelectionFailed   ErrorCode = "wallet_selection_failed"
	CodeUpPointsSelectionFailed ErrorCode = "up_points_selection_failed"
	CodeUnipinSigninFailed      ErrorCode = "unipin_signin_failed"
	CodeOTPRequired             ErrorCode = "otp_required"
	CodePinConfirmationFailed   ErrorCode = "pin_confirmation_failed"
	CodeTransactionFailed       ErrorCode = "transaction_failed"
	CodeTimeout                 ErrorCode = "timeout"
	CodeAutomationException     ErrorCode = "automation_exception"

	CodeCaptchaFailed         ErrorCode = "captcha_failed"
	CodeInsufficientBalance   ErrorCode = "insufficient_balance"
	CodeTransactionUnverified ErrorCode = "transaction_unverified"
)

// manualCodes need a human before another attempt can succeed.
var manualCodes = map[ErrorCode]bool{
	CodeOTPRequired:           true,
	CodeCaptchaFailed:         true,
	CodeLoginFailed:           true,
	CodeInsufficientBalance:   true,
	CodeTransactionUnverified: true,
}

// NeedsManual reports whether an order that stopped with this code should be
// parked in manual_pending instead of failed.
func (c ErrorCode) NeedsManual() bool {
	return manualCodes[c]
}

// StepError carries the code a step wants to report when it differs from the
// default code of the state it failed in.
type StepError struct {
	State State
	Code  ErrorCode
	Err   error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.State, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.State, e.Code, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotRetryable    = errors.New("only failed or manual_pending orders can be retried")
	ErrAlreadyRunning  = errors.New("order already has an active run")
	ErrQueueFull       = errors.New("job queue is full")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrDuplicateOrder  = errors.New("order id already exists")
	ErrStatusConflict  = errors.New("order is not in an expected status")
	ErrDispatcherDone  = errors.New("dispatcher is not accepting jobs")
	ErrElementNotFound = errors.New("element not found")
)

func knownCodes() map[ErrorCode]bool {
	codes := map[ErrorCode]bool{}
	for _, c := range []ErrorCode{
		CodeBrowserConnectionFailed, CodeNavigationFailed, CodeGameSelectionFailed,
		CodeRedeemClickFailed, CodeLoginFailed, CodeProceedPaymentFailed,
		CodeDiamondSelectionFailed, CodeWalletSelectionFailed, CodeUpPointsSelectionFailed,
		CodeUnipinSigninFailed, CodeOTPRequired, CodePinConfirmationFailed,
		CodeTransactionFailed, CodeTimeout, CodeAutomationException,
		CodeCaptchaFailed, CodeInsufficientBalance, CodeTransactionUnverified,
	} {
		codes[c] = true
	}
	return codes
}

// failureMessage is the operator-facing text stored on an order that stopped
// with code.
func failureMessage(code ErrorCode) string {
	return T("failure_" + string(code))
}
