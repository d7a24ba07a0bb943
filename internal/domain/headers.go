package domain

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ExtractAddresses 从原始邮件头部提取 From/To 地址
//
// 处理续行（以空格或制表符开头）与逗号分隔的地址列表，
// "显示名 <地址>" 只保留尖括号内的地址。没有冒号的行直接跳过，
// 遇到第一个空行（头部结束）即停止。
func ExtractAddresses(data string) (from, to mapset.Set[string]) {
	from = mapset.NewSet[string]()
	to = mapset.NewSet[string]()

	var name, value string
	flush := func() {
		switch {
		case strings.EqualFold(name, "From"):
			addAddresses(from, value)
		case strings.EqualFold(name, "To"):
			addAddresses(to, value)
		}
	}

	for _, line := range splitLines(data) {
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			value += " " + strings.TrimSpace(line)
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		flush()
		name = strings.TrimSpace(line[:idx])
		value = strings.TrimSpace(line[idx+1:])
	}
	flush()

	return from, to
}

func addAddresses(set mapset.Set[string], value string) {
	for _, entry := range strings.Split(value, ",") {
		if addr, ok := extractAddress(strings.TrimSpace(entry)); ok {
			set.Add(addr)
		}
	}
}

// extractAddress 提取单个地址；有 "<" 却没有匹配的 ">" 视为畸形
func extractAddress(s string) (string, bool) {
	start := strings.IndexByte(s, '<')
	if start < 0 {
		return s, s != ""
	}
	end := strings.IndexByte(s[start+1:], '>')
	if end < 0 {
		return "", false
	}
	addr := strings.TrimSpace(s[start+1 : start+1+end])
	return addr, addr != ""
}

// splitLines 按 \n 切分并去掉行尾的 \r
func splitLines(data string) []string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" && strings.HasSuffix(data, "\n") {
		lines = lines[:n-1]
	}
	return lines
}
