// Package goid 读取当前 goroutine ID，仅用于日志定位。
package goid

import "runtime"

const prefix = len("goroutine ")

// GetGID 获取当前 goroutine 的 ID，解析失败时返回 0
func GetGID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// 栈信息类似: "goroutine 123 [running]:\n"
	var id uint64
	for _, c := range buf[prefix:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
