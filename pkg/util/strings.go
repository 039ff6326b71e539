// strings.go — 字符串辅助。
package util

// Truncate 截断字符串到最多 n 字节，截断时追加省略号。
// 用于日志中的 payload 预览。
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FirstNonEmpty 返回第一个非空字符串。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
