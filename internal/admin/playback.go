package admin

import (
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Playback 记录播放引擎当前打开的文件，淘汰与清理会跳过它。
type Playback struct {
	active atomic.Pointer[string]
}

func NewPlayback() *Playback {
	return &Playback{}
}

// SetActive 以绝对路径登记当前播放文件；空路径等价于 Clear。
func (p *Playback) SetActive(path string) {
	if strings.TrimSpace(path) == "" {
		p.Clear()
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.Clean(abs)
	p.active.Store(&abs)
}

func (p *Playback) Clear() {
	p.active.Store(nil)
}

// Active 返回当前播放文件，未播放时为空。
func (p *Playback) Active() string {
	if p == nil {
		return ""
	}
	if v := p.active.Load(); v != nil {
		return *v
	}
	return ""
}

// ProtectedPaths 返回不可删除的路径集合。
func (p *Playback) ProtectedPaths() []string {
	if active := p.Active(); active != "" {
		return []string{active}
	}
	return nil
}
