package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// FallbackLeaf 在无法推导出任何可读文件名时使用。
	FallbackLeaf = "remote"

	// KeyLength 为 sha1 十六进制摘要长度。
	KeyLength = 40

	// maxLeafBytes 限制 leaf 长度，保证 "<key>_<leaf>.part" 不超过常见文件系统 255 字节上限。
	maxLeafBytes = 120
)

// leafQueryKeys 按优先级列出可能携带文件名的查询参数。
var leafQueryKeys = []string{"filename", "file", "name"}

// Identity 汇总一个 locator 推导出的全部缓存标识。
type Identity struct {
	Locator  string `json:"locator"`
	CacheKey string `json:"cache_key"`
	Leaf     string `json:"leaf"`
	FileName string `json:"file_name"`
}

// Resolve 计算 locator 的 cache key、净化后的 leaf 以及最终磁盘文件名。
func Resolve(locator, contentDisposition string) Identity {
	key := CacheKey(locator)
	leaf := Sanitize(LeafHint(locator, contentDisposition))
	return Identity{
		Locator:  locator,
		CacheKey: key,
		Leaf:     leaf,
		FileName: key + "_" + leaf,
	}
}

// Normalize 只去除首尾空白；查询参数顺序不做归一化，字节不同的 locator 即不同的条目。
func Normalize(locator string) string {
	return strings.TrimSpace(locator)
}

// CacheKey 返回归一化 locator 的小写 sha1 十六进制摘要。
func CacheKey(locator string) string {
	sum := sha1.Sum([]byte(Normalize(locator)))
	return hex.EncodeToString(sum[:])
}

// FileName 返回 "<cacheKey>_<sanitizedLeaf>"。
func FileName(locator, contentDisposition string) string {
	return Resolve(locator, contentDisposition).FileName
}

// KeyPrefix 返回用于前缀扫描的 "<cacheKey>_"。
func KeyPrefix(locator string) string {
	return CacheKey(locator) + "_"
}

// LeafHint 按 fragment → 查询参数 → Content-Disposition → 路径末段 → host → "remote"
// 的优先级推导一个可读文件名，结果尚未净化。
func LeafHint(locator, contentDisposition string) string {
	raw := Normalize(locator)

	u, err := url.Parse(raw)
	if err != nil {
		if leaf := fromDisposition(contentDisposition); leaf != "" {
			return leaf
		}
		if leaf := lastSegment(raw); leaf != "" {
			return leaf
		}
		return FallbackLeaf
	}

	if leaf := lastSegment(u.Fragment); leaf != "" {
		return leaf
	}
	if u.RawQuery != "" {
		values, _ := url.ParseQuery(u.RawQuery)
		for _, key := range leafQueryKeys {
			if leaf := lastSegment(values.Get(key)); leaf != "" {
				return leaf
			}
		}
	}
	if leaf := fromDisposition(contentDisposition); leaf != "" {
		return leaf
	}

	// u.Path 已由 url.Parse 解码；Opaque 保持原样，需要解码一次。
	p := u.Path
	if u.Opaque != "" {
		p = unescape(u.Opaque)
	}
	if leaf := lastSegment(p); leaf != "" {
		return leaf
	}
	if host := u.Hostname(); host != "" {
		return host
	}
	return FallbackLeaf
}

// Sanitize 将路径分隔符与文件系统非法字符替换为 '_'，结果为空时回退到 "remote"。
func Sanitize(leaf string) string {
	var b strings.Builder
	b.Grow(len(leaf))
	for _, r := range leaf {
		switch {
		case r == utf8.RuneError:
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), " .")
	out = truncate(out, maxLeafBytes)
	if out == "" {
		return FallbackLeaf
	}
	return out
}

// StripKeyPrefix 去掉文件名前的 "<40 位 hex>_"，仅用于展示。
func StripKeyPrefix(fileName string) string {
	if len(fileName) <= KeyLength || fileName[KeyLength] != '_' {
		return fileName
	}
	if !IsKey(fileName[:KeyLength]) {
		return fileName
	}
	return fileName[KeyLength+1:]
}

// IsKey 判断 s 是否为 40 位小写十六进制摘要。
func IsKey(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// fromDisposition 解析 Content-Disposition，filename* (RFC 5987) 优先于 filename。
func fromDisposition(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		// mime 已解码 filename*，这里不再做百分号解码。
		if name := params["filename"]; name != "" {
			return lastSegment(name)
		}
		return ""
	}

	// ParseMediaType 拒绝的非规范头（未加引号的空格等），退回宽松扫描。
	var plain, extended string
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "filename*":
			if _, rest, found := strings.Cut(v, "''"); found {
				v = rest
			}
			extended = unescape(v)
		case "filename":
			plain = v
		}
	}
	if extended != "" {
		return lastSegment(extended)
	}
	return lastSegment(plain)
}

// lastSegment 取 '/' 与 '\\' 之后的最后一个非空片段。归档路径 "pack.zip!/CD1/x.flac"
// 的 "!/" 分隔符自然落在 '/' 上，文件名中的 '!' 保持不变。
func lastSegment(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	fields := strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for i := len(fields) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(fields[i]); seg != "" {
			return seg
		}
	}
	return ""
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if out, err := url.PathUnescape(s); err == nil {
		return out
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}
