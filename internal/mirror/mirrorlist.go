package mirror

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// ParseMirrorlist 解析 pacman 风格的 mirrorlist 内容：
//
//	Server = https://mirror.example.com/archlinux/$repo/os/$arch
//
// 注释与空行被忽略，$repo/$arch 及其后缀被裁剪，返回基础 URL 列表。
func ParseMirrorlist(r io.Reader) []string {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "Server" {
			continue
		}
		raw := strings.TrimSpace(value)
		if raw == "" {
			continue
		}
		raw = stripPlaceholders(raw)
		if raw == "" {
			continue
		}
		urls = append(urls, raw)
	}
	return urls
}

// LoadMirrorlist 读取 mirrorlist 文件并解析，文件不存在视为空列表交由上层告警。
func LoadMirrorlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMirrorlist(f), nil
}

// stripPlaceholders 去掉 $repo/$arch 占位符之后的部分，保留镜像站基础 URL。
func stripPlaceholders(raw string) string {
	if idx := strings.Index(raw, "$"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimRight(raw, "/")
}
