package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// ErrNoArtwork 表示既没有内嵌封面也没有目录封面。
var ErrNoArtwork = errors.New("no artwork found")

var (
	folderArtNames = []string{"cover", "folder", "front", "album"}
	folderArtExts  = []string{".jpg", ".jpeg", ".png"}
)

// FolderArtwork 在 dir 中查找 cover/folder/front/album 命名的图片，大小写不敏感。
// 名称优先级高于扩展名优先级。
func FolderArtwork(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	byName := make(map[string]string, len(entries))
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		byName[strings.ToLower(de.Name())] = de.Name()
	}
	for _, base := range folderArtNames {
		for _, ext := range folderArtExts {
			if actual, ok := byName[base+ext]; ok {
				return filepath.Join(dir, actual), true
			}
		}
	}
	return "", false
}

// EmbeddedArtwork 解码音频文件内嵌的封面（ID3v2、MP4、FLAC、OGG）。
func EmbeddedArtwork(audioPath string) (image.Image, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return nil, ErrNoArtwork
		}
		return nil, fmt.Errorf("read tags: %w", err)
	}
	pic := meta.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, ErrNoArtwork
	}
	img, _, err := image.Decode(bytes.NewReader(pic.Data))
	if err != nil {
		return nil, fmt.Errorf("decode embedded picture: %w", err)
	}
	return img, nil
}

// ArtworkFor 是默认 Loader：图片文件直接解码，音频文件先取内嵌封面，
// 失败后回退到同目录下的封面图。
func ArtworkFor(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isImagePath(path) {
		return decodeFile(path)
	}
	if img, err := EmbeddedArtwork(path); err == nil {
		return img, nil
	}
	if art, ok := FolderArtwork(filepath.Dir(path)); ok {
		return decodeFile(art)
	}
	return nil, ErrNoArtwork
}

func isImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range folderArtExts {
		if ext == candidate {
			return true
		}
	}
	return false
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
