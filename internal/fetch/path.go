package fetch

import (
	"path"
	"strings"
)

// indexSuffixes 覆盖 pacman 数据库及签名文件，这类文件频繁变化，
// 陈旧副本会破坏客户端依赖解析，因此永远先尝试回源。
var indexSuffixes = []string{
	".db",
	".db.sig",
	".files",
	".files.sig",
}

// indexBasenames 覆盖 apt/apk 风格的仓库索引文件名。
var indexBasenames = map[string]struct{}{
	"InRelease":       {},
	"Release":         {},
	"Release.gpg":     {},
	"Packages":        {},
	"Packages.gz":     {},
	"Packages.xz":     {},
	"Sources":         {},
	"Sources.gz":      {},
	"Sources.xz":      {},
	"APKINDEX.tar.gz": {},
	"repomd.xml":      {},
	"repomd.xml.asc":  {},
	"mirrorlist":      {},
	"lastupdate":      {},
	"lastsync":        {},
}

// IsIndexPath 判断请求路径是否为仓库索引/数据库文件。
// 索引文件绝不直接走缓存命中，普通制品在被淘汰前可无限期缓存。
func IsIndexPath(requestPath string) bool {
	clean := path.Clean("/" + requestPath)
	for _, suffix := range indexSuffixes {
		if strings.HasSuffix(clean, suffix) {
			return true
		}
	}
	base := path.Base(clean)
	_, ok := indexBasenames[base]
	return ok
}
