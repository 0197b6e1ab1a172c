// Package recorder 将中继生命周期事件追加到按小时滚动的 zstd 压缩 JSONL 文件
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// 事件类型
const (
	KindJoin     = "join"
	KindLeave    = "leave"
	KindAnnounce = "announce"
)

// Event 记录中的一行；瞬时 state 帧从不记录
type Event struct {
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
	Room string    `json:"room,omitempty"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Recorder 中继 hub 写入的目标
type Recorder interface {
	Record(Event) error
	Close() error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Record(Event) error { return nil }
func (Nop) Close() error       { return nil }

// JSONLZstd 每行一个 JSON 对象，写入 <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst，
// 按 UTC 整点滚动
type JSONLZstd struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstd(dir, prefix string) *JSONLZstd {
	return &JSONLZstd{dir: dir, prefix: prefix, now: time.Now}
}

func (r *JSONLZstd) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = r.now()
	}
	hour := ev.At.UTC().Format("2006-01-02-15")
	if hour != r.curHour {
		if err := r.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := r.w.Write(b); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *JSONLZstd) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// Path 返回 t 时刻事件所写入的文件
func (r *JSONLZstd) Path(t time.Time) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s.jsonl.zst", r.prefix, t.UTC().Format("2006-01-02-15")))
}

func (r *JSONLZstd) rotateLocked(hour string) error {
	if err := r.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.jsonl.zst", r.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f = f
	r.enc = enc
	r.w = bufio.NewWriterSize(enc, 32*1024)
	r.curHour = hour
	return nil
}

func (r *JSONLZstd) closeLocked() error {
	var err error
	if r.w != nil {
		_ = r.w.Flush()
	}
	if r.enc != nil {
		err = r.enc.Close()
		r.enc = nil
	}
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	r.w = nil
	r.curHour = ""
	return err
}

// ReadFile 解码记录文件中的全部事件
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return out, fmt.Errorf("recorder: %s: %w", path, err)
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
