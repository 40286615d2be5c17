package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath 未通过 --config 指定时读取的环境变量。
	EnvConfigPath = "TRACKCACHE_CONFIG"
	// DefaultConfigPath 为最后的回退路径。
	DefaultConfigPath = "config.toml"

	appName = "trackcache"
)

// ResolvePath 按 --config → TRACKCACHE_CONFIG → config.toml 的顺序决定配置文件路径。
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("展开配置路径失败: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(expanded)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyGlobalDefaults(&cfg.Global); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5300)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheRoot", "")

	v.SetDefault("RemoteCache.Dir", "remote")
	v.SetDefault("RemoteCache.MaxTracks", 100)
	v.SetDefault("RemoteCache.MaxBytes", "1GiB")
	v.SetDefault("RemoteCache.ClearOnLaunch", false)
	v.SetDefault("RemoteCache.PartialMaxAge", "24h")

	v.SetDefault("Thumbnails.Dir", "thumbs")
	v.SetDefault("Thumbnails.MaxFiles", 80)
	v.SetDefault("Thumbnails.MaxBytes", "32MiB")
	v.SetDefault("Thumbnails.MaxEdge", 512)
	v.SetDefault("Thumbnails.Quality", 82)

	v.SetDefault("ArchiveCache.Dir", "archives")
	v.SetDefault("ArchiveCache.MaxMounts", 8)
	v.SetDefault("ArchiveCache.MaxBytes", "512MiB")
	v.SetDefault("ArchiveCache.MaxAge", "168h")
	v.SetDefault("ArchiveCache.ClearOnLaunch", false)
}

// applyGlobalDefaults 补全 CacheRoot：空值取用户缓存目录，~ 展开后转为绝对路径。
func applyGlobalDefaults(g *GlobalConfig) error {
	root := strings.TrimSpace(g.CacheRoot)
	if root == "" {
		dir, err := gap.NewScope(gap.User, appName).CacheDir()
		if err != nil {
			return fmt.Errorf("无法定位用户缓存目录: %w", err)
		}
		root = dir
	}
	expanded, err := homedir.Expand(root)
	if err != nil {
		return fmt.Errorf("无法展开缓存目录: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	g.CacheRoot = abs

	if g.LogFilePath != "" {
		if logPath, err := homedir.Expand(g.LogFilePath); err == nil {
			g.LogFilePath = logPath
		}
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析 ByteSize 字段: %s", v)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 ByteSize 类型: %T", v)
		}
	}
}
