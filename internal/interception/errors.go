package interception

import (
	"errors"
	"strings"

	"github.com/mafredri/cdp/protocol/network"
)

var (
	// ErrInterceptionNotEnabled 当前客户端未开启请求拦截
	ErrInterceptionNotEnabled = errors.New("request interception is not enabled")
	// ErrAlreadyHandled 请求已经下发过终结命令
	ErrAlreadyHandled = errors.New("request is already handled")
	// ErrUnknownErrorCode abort 使用了未定义的错误码
	ErrUnknownErrorCode = errors.New("unknown error code")
	// ErrInvalidHeader 浏览器拒绝了覆盖的请求头
	ErrInvalidHeader = errors.New("invalid header")
)

// errorReasons abort 错误码到协议 ErrorReason 的映射
var errorReasons = map[string]network.ErrorReason{
	"aborted":              network.ErrorReason("Aborted"),
	"accessdenied":         network.ErrorReason("AccessDenied"),
	"addressunreachable":   network.ErrorReason("AddressUnreachable"),
	"blockedbyclient":      network.ErrorReason("BlockedByClient"),
	"blockedbyresponse":    network.ErrorReason("BlockedByResponse"),
	"connectionaborted":    network.ErrorReason("ConnectionAborted"),
	"connectionclosed":     network.ErrorReason("ConnectionClosed"),
	"connectionfailed":     network.ErrorReason("ConnectionFailed"),
	"connectionrefused":    network.ErrorReason("ConnectionRefused"),
	"connectionreset":      network.ErrorReason("ConnectionReset"),
	"internetdisconnected": network.ErrorReason("InternetDisconnected"),
	"namenotresolved":      network.ErrorReason("NameNotResolved"),
	"timedout":             network.ErrorReason("TimedOut"),
	"failed":               network.ErrorReasonFailed,
}

// DefaultErrorCode abort 未指定错误码时使用
const DefaultErrorCode = "failed"

// ErrorReasonFor 返回错误码对应的协议 ErrorReason
func ErrorReasonFor(code string) (network.ErrorReason, bool) {
	if code == "" {
		code = DefaultErrorCode
	}
	r, ok := errorReasons[code]
	return r, ok
}

// ErrorCodes 返回全部可用的错误码
func ErrorCodes() []string {
	codes := make([]string, 0, len(errorReasons))
	for c := range errorReasons {
		codes = append(codes, c)
	}
	return codes
}

func isInvalidHeader(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Invalid header")
}
