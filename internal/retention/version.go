package retention

import (
	"path"
	"strings"
)

// PackageFile 是从制品文件名提取的包族与版本信息。
// Family 为去掉版本/架构/扩展名后的包名，同族的历史版本共享保留窗口；
// Version 为空表示文件名不含可解析版本，这类条目按抓取时间排序。
type PackageFile struct {
	Family  string
	Version string
}

// pkgExtensions 按最长优先排列，避免 .pkg.tar.zst 被当成 .zst 处理。
var pkgExtensions = []string{
	".pkg.tar.zst",
	".pkg.tar.xz",
	".pkg.tar.gz",
	".pkg.tar",
	".apk",
	".deb",
	".rpm",
}

// ParsePackageFile 从文件名推导包族与版本：
//
//	pacman:  name-1.2.3-4-x86_64.pkg.tar.zst  -> family=name version=1.2.3-4
//	apk:     name-1.2.3-r0.apk                -> family=name version=1.2.3-r0
//	debian:  name_1.2.3-1_amd64.deb           -> family=name version=1.2.3-1
//
// 无法解析版本时 family 退化为整个文件名（去扩展名），version 为空。
func ParsePackageFile(filename string) PackageFile {
	base := path.Base(filename)

	ext := ""
	for _, candidate := range pkgExtensions {
		if strings.HasSuffix(base, candidate) {
			ext = candidate
			break
		}
	}
	stem := strings.TrimSuffix(base, ext)

	switch ext {
	case ".deb":
		if parts := strings.Split(stem, "_"); len(parts) >= 3 {
			return PackageFile{Family: parts[0], Version: parts[1]}
		}
	case ".apk":
		if parts := strings.Split(stem, "-"); len(parts) >= 3 {
			return PackageFile{
				Family:  strings.Join(parts[:len(parts)-2], "-"),
				Version: strings.Join(parts[len(parts)-2:], "-"),
			}
		}
	case ".pkg.tar.zst", ".pkg.tar.xz", ".pkg.tar.gz", ".pkg.tar", ".rpm":
		// name-ver-rel-arch：末位是架构，版本取 ver-rel 两段。
		if parts := strings.Split(stem, "-"); len(parts) >= 4 {
			return PackageFile{
				Family:  strings.Join(parts[:len(parts)-3], "-"),
				Version: strings.Join(parts[len(parts)-3:len(parts)-1], "-"),
			}
		}
	}

	return PackageFile{Family: stem}
}

// CompareVersions 按 alpm/rpm 风格比较版本号：版本被切分为数字段与字母段，
// 数字段按数值比较且恒大于字母段。返回 -1/0/1。
// 该语义覆盖 distro 版本串（1.2.3-4、1.2.3-r0 等），不要求 semver。
func CompareVersions(a, b string) int {
	ia, ib := 0, 0
	for ia < len(a) && ib < len(b) {
		// 跳过分隔符。
		for ia < len(a) && !isAlnum(a[ia]) {
			ia++
		}
		for ib < len(b) && !isAlnum(b[ib]) {
			ib++
		}
		if ia >= len(a) || ib >= len(b) {
			break
		}

		segA, numA := takeSegment(a, &ia)
		segB, numB := takeSegment(b, &ib)

		if numA != numB {
			// 数字段恒大于字母段。
			if numA {
				return 1
			}
			return -1
		}

		if numA {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) > len(segB) {
					return 1
				}
				return -1
			}
		}
		if segA != segB {
			if segA > segB {
				return 1
			}
			return -1
		}
	}

	restA := ia < len(a)
	restB := ib < len(b)
	switch {
	case restA && !restB:
		return 1
	case !restA && restB:
		return -1
	default:
		return 0
	}
}

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// takeSegment 从 s[*i] 开始读取一个同类段（纯数字或纯字母），并推进游标。
func takeSegment(s string, i *int) (string, bool) {
	start := *i
	numeric := isDigit(s[start])
	for *i < len(s) && isAlnum(s[*i]) && isDigit(s[*i]) == numeric {
		*i++
	}
	return s[start:*i], numeric
}
