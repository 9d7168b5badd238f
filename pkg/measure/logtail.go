package measure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LogTail 返回日志文件自上次调用以来新增的完整行
// 首次打开时从文件末尾开始；文件被截断时从头读；文件被轮转（路径指向新文件）时重新打开
type LogTail struct {
	path string

	mu      sync.Mutex
	file    *os.File
	offset  int64
	started bool
}

// NewLogTail 创建日志增量读取器，文件在第一次 Measure 时打开
func NewLogTail(path string) *LogTail {
	return &LogTail{path: path}
}

// Measure 读取新增行，未写完的最后一行留到下一次
func (t *LogTail) Measure(_ context.Context) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reopenIfRotated()
	if err := t.open(); err != nil {
		return nil, err
	}

	fi, err := t.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", t.path, err)
	}
	if fi.Size() < t.offset {
		t.offset = 0
	}

	data, err := io.ReadAll(io.NewSectionReader(t.file, t.offset, fi.Size()-t.offset))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}

	lines := []string{}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return lines, nil
	}
	for _, line := range strings.Split(string(data[:end]), "\n") {
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	t.offset += int64(end + 1)
	return lines, nil
}

func (t *LogTail) open() error {
	if t.file != nil {
		return nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open log %s: %w", t.path, err)
	}
	t.file, t.offset = f, 0
	if !t.started {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			t.file = nil
			return fmt.Errorf("seek %s: %w", t.path, err)
		}
		t.offset = end
		t.started = true
	}
	return nil
}

// reopenIfRotated 路径已指向另一个文件时关闭旧句柄，新文件从头读
func (t *LogTail) reopenIfRotated() {
	if t.file == nil {
		return
	}
	cur, err := os.Stat(t.path)
	if err != nil {
		// 轮转间隙，继续读旧句柄
		return
	}
	old, err := t.file.Stat()
	if err != nil || !os.SameFile(cur, old) {
		_ = t.file.Close()
		t.file = nil
	}
}

// Close 关闭文件句柄
func (t *LogTail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
