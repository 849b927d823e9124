package codec

import (
	xerrors "CoSign-Chain/internal/errors"
)

// 编解码错误码，结果确定，均不重试。
const (
	CodeMalformedAddress      xerrors.Code = "MALFORMED_ADDRESS"
	CodeLengthOverflow        xerrors.Code = "LENGTH_OVERFLOW"
	CodeArgumentArityMismatch xerrors.Code = "ARGUMENT_ARITY_MISMATCH"
	CodeRangeError            xerrors.Code = "RANGE_ERROR"
	CodeMalformedArgument     xerrors.Code = "MALFORMED_ARGUMENT"
)

var (
	ErrMalformedAddress      = xerrors.New(CodeMalformedAddress, "")
	ErrLengthOverflow        = xerrors.New(CodeLengthOverflow, "")
	ErrArgumentArityMismatch = xerrors.New(CodeArgumentArityMismatch, "")
	ErrRangeError            = xerrors.New(CodeRangeError, "")
	ErrMalformedArgument     = xerrors.New(CodeMalformedArgument, "")
)

func init() {
	xerrors.Register(CodeMalformedAddress, xerrors.Attributes{
		Message:  "malformed address",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeLengthOverflow, xerrors.Attributes{
		Message:  "length exceeds 1-byte prefix capacity",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeArgumentArityMismatch, xerrors.Attributes{
		Message:  "parallel vector counts disagree",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRangeError, xerrors.Attributes{
		Message:  "integer out of encodable range",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeMalformedArgument, xerrors.Attributes{
		Message:  "malformed argument bytes",
		Severity: xerrors.SeverityInfo,
	})
}
