package api

import (
	"encoding/json"
	"net/http"

	"CoSign-Chain/internal/auth"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/job"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/transfer"
)

// errorBody 是所有失败响应的统一结构。
type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: xerrors.CodeOf(err), Message: err.Error(), Metadata: xerrors.MetadataOf(err)}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
	}
	writeJSON(w, statusOf(err), body)
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, job.CodeJobValidation, payload.CodeSchemaMismatch,
		codec.CodeMalformedAddress, codec.CodeLengthOverflow, codec.CodeArgumentArityMismatch,
		codec.CodeRangeError, codec.CodeMalformedArgument:
		return http.StatusBadRequest
	case auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case auth.CodePermissionDenied:
		return http.StatusForbidden
	case transfer.CodePreconditionFailed:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNotFound, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeChainUnavailable, xerrors.CodeInitializationFailure, job.CodeJobPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
