package multistream

import (
	"sort"
	"strconv"
	"strings"
)

// SplitProtocol 拆分 /<name>/<version> 形式的协议名
//
// 最后一个路径段视为版本；不含版本段时 version 为空。
func SplitProtocol(proto string) (name, version string) {
	idx := strings.LastIndex(proto, "/")
	if idx <= 0 {
		return proto, ""
	}
	return proto[:idx], proto[idx+1:]
}

// compareVersions 比较两个 semver 版本串
//
// 返回负数、零、正数分别表示 a<b、a==b、a>b。
// 非数字段按 0 处理。
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

// OrderBySemverDesc 按版本号降序排列协议名
//
// 同名不同版本的协议按 semver 降序提议；名称不同的协议
// 保持原有注册顺序（稳定排序）。
func OrderBySemverDesc(protos []string) []string {
	out := make([]string, len(protos))
	copy(out, protos)
	sort.SliceStable(out, func(i, j int) bool {
		ni, vi := SplitProtocol(out[i])
		nj, vj := SplitProtocol(out[j])
		if ni != nj {
			return false
		}
		return compareVersions(vi, vj) > 0
	})
	return out
}
