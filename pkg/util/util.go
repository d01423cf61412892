// Package util 提供通用工具函数
package util

// TruncateRunes 按字符数截断字符串
// 超过 maxRunes 个字符时截断并追加省略号标记
// 对话标题由第一条用户消息经此规则生成（maxRunes = 50）
// 参数:
//   - s: 原字符串
//   - maxRunes: 保留的最大字符数
//
// 返回:
//   - string: 截断后的字符串
func TruncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// StringPtr 返回字符串的指针
// 用于可选字段的赋值
// 参数:
//   - s: 字符串
//
// 返回:
//   - *string: 字符串指针
func StringPtr(s string) *string {
	return &s
}
