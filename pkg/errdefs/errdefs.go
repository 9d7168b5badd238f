// Package errdefs 定义采集/上报链路的错误分类，调用方通过 errors.Is 或 KindOf 区分
// 配置误用（同步返回）和稳态周期错误（本地记录后继续）。
package errdefs

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindCollectorExists
	KindCollectorNotFound
	KindAlreadyRunning
	KindMeasurement
	KindPublish
	KindShutdownTimeout
	KindStopped
)

var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrCollectorExists   = errors.New("collector already exists")
	ErrCollectorNotFound = errors.New("collector not found")
	ErrAlreadyRunning    = errors.New("already running")
	ErrMeasurement       = errors.New("measurement failed")
	ErrPublish           = errors.New("publish failed")
	ErrShutdownTimeout   = errors.New("shutdown timed out")
	ErrStopped           = errors.New("already stopped")
)

var sentinels = map[Kind]error{
	KindConfiguration:     ErrConfiguration,
	KindCollectorExists:   ErrCollectorExists,
	KindCollectorNotFound: ErrCollectorNotFound,
	KindAlreadyRunning:    ErrAlreadyRunning,
	KindMeasurement:       ErrMeasurement,
	KindPublish:           ErrPublish,
	KindShutdownTimeout:   ErrShutdownTimeout,
	KindStopped:           ErrStopped,
}

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCollectorExists:
		return "collector_exists"
	case KindCollectorNotFound:
		return "collector_not_found"
	case KindAlreadyRunning:
		return "already_running"
	case KindMeasurement:
		return "measurement"
	case KindPublish:
		return "publish"
	case KindShutdownTimeout:
		return "shutdown_timeout"
	case KindStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Error 带分类的错误
type Error struct {
	Kind    Kind
	Op      string // 出错的操作，如 "add_collector"
	Subject string // 操作对象，通常是采集器名称或 routing key
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, sentinels[e.Kind], e.Err)
	}
	if s, ok := sentinels[e.Kind]; ok {
		return fmt.Sprintf("%s: %v", msg, s)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrXxx) 按类别匹配
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New 创建分类错误，err 可以为 nil
func New(kind Kind, op, subject string, err error) error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Configurationf 创建配置错误
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误链上第一个分类错误的类别
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}
