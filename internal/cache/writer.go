package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// Put 将 body 写入 Reserve 得到的临时文件，再 Commit 并登记侧索引。
// 主要服务于本地导入与测试；真正的网络下载由外部组件完成后调用 Commit。
func (s *Store) Put(ctx context.Context, locator, contentDisposition string, body io.Reader) (Entry, error) {
	res := s.Reserve(locator, contentDisposition)

	tempFile, err := os.OpenFile(res.TempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, err
	}

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(res.TempPath)
		return Entry{}, err
	}

	if !s.Commit(res.TempPath, res.FinalPath) {
		return Entry{}, ErrCommitFailed
	}
	s.DropSiblings(res.FinalPath)
	s.Remember(res.FileName, res.Locator)

	modTime := s.now()
	if info, err := os.Stat(res.FinalPath); err == nil {
		modTime = info.ModTime()
	}
	return Entry{
		CacheKey:       res.CacheKey,
		FileName:       res.FileName,
		Path:           res.FinalPath,
		SizeBytes:      written,
		LastAccessedAt: modTime,
		SourceIdentity: res.Locator,
	}, nil
}

// SetModTime 同时覆盖 atime/mtime；Touch 与导入历史文件都经由它。
func (s *Store) SetModTime(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
