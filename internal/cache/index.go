package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// IndexFileName 为侧索引文件名：扁平 JSON 对象，载荷文件名 → 原始 locator。
const IndexFileName = ".source_index.json"

// sourceIndex 仅用于展示，读取失败一律视为空索引，下一次成功写入即自愈。
// mu 只串行化本句柄内的读-改-写；跨进程写入仍是 last-writer-wins。
type sourceIndex struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

func newSourceIndex(path string, logger *logrus.Logger) *sourceIndex {
	return &sourceIndex{path: path, logger: logger}
}

// load 读取索引；文件缺失或 JSON 损坏时返回空 map。
func (x *sourceIndex) load() map[string]string {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			x.warn(err, "unable to read source index")
		}
		return map[string]string{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		x.warn(err, "source index corrupted, treating as empty")
		return map[string]string{}
	}
	return m
}

// save 以临时文件 + rename 整体重写索引；encoding/json 对 map 键按升序输出。
func (x *sourceIndex) save(m map[string]string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return err
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	tmp := x.path + TmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, x.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// update 在锁内执行读-改-写，fn 返回 true 时才落盘。
func (x *sourceIndex) update(fn func(m map[string]string) bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	m := x.load()
	if !fn(m) {
		return
	}
	if err := x.save(m); err != nil {
		x.warn(err, "unable to persist source index")
	}
}

// retain 删除不在 present 中的键，并返回清理后的快照。
func (x *sourceIndex) retain(present map[string]struct{}) map[string]string {
	var out map[string]string
	x.update(func(m map[string]string) bool {
		changed := false
		for name := range m {
			if _, ok := present[name]; !ok {
				delete(m, name)
				changed = true
			}
		}
		out = copyMap(m)
		return changed
	})
	return out
}

func (x *sourceIndex) snapshot() map[string]string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.load()
}

func (x *sourceIndex) lookup(fileName string) string {
	return x.snapshot()[fileName]
}

func (x *sourceIndex) warn(err error, msg string) {
	x.logger.WithFields(logrus.Fields{
		"action": "source_index",
		"path":   x.path,
		"dir":    filepath.Dir(x.path),
	}).WithError(err).Warn(msg)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
