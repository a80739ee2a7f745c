package server

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator 基于 htpasswd 文件（user:bcrypt-hash 每行一条）校验 Basic 凭证。
// 为空（未配置文件）时服务以匿名模式运行。
type Authenticator struct {
	users map[string]string
}

// dummyHash 用于未知用户名时的等价比较，避免通过响应时间区分
// “用户不存在”与“密码错误”。
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// LoadHtpasswd 读取 htpasswd 文件。仅接受 bcrypt 条目（$2a$/$2b$/$2y$），
// 其它算法视为配置错误，启动即失败。
func LoadHtpasswd(path string) (*Authenticator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 htpasswd 失败: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, found := strings.Cut(line, ":")
		if !found || user == "" || hash == "" {
			return nil, fmt.Errorf("htpasswd 第 %d 行格式非法", lineNo)
		}
		if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") && !strings.HasPrefix(hash, "$2y$") {
			return nil, fmt.Errorf("htpasswd 第 %d 行不是 bcrypt 哈希", lineNo)
		}
		users[user] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 htpasswd 失败: %w", err)
	}

	return &Authenticator{users: users}, nil
}

// Authenticate 校验用户名/密码。未知用户与错误密码的返回路径保持一致，
// 不泄露二者区别。
func (a *Authenticator) Authenticate(username, password string) bool {
	if a == nil {
		return false
	}
	hash, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// parseBasicAuth 解析 Authorization: Basic 头，返回用户名与密码。
func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return username, password, true
}
