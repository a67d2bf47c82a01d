package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv 依次加载 .env 文件，已存在的进程环境变量不会被覆盖。
// 不存在的文件会被忽略。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("加载环境文件 %s 失败: %w", p, err)
		}
	}
	return nil
}

// Settings 是运行时读取设置项的来源。
type Settings interface {
	Get(key string) string
}

// EnvSettings 从进程环境变量读取设置，可附带覆盖值。
type EnvSettings struct {
	Overrides map[string]string
}

// Get 返回去除首尾空白后的设置值。
func (s EnvSettings) Get(key string) string {
	if v, ok := s.Overrides[key]; ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(os.Getenv(key))
}
