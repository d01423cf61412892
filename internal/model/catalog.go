// Package model 定义了与数据库表对应的数据结构
package model

// 问题分类常量
// 与前端分类选择器一一对应，对话创建时记录所选分类
const (
	CategorySoftware = "software"
	CategoryHardware = "hardware"
	CategoryNetwork  = "network"
	CategorySystem   = "system"
	CategoryMobile   = "mobile"
	CategoryServer   = "server"
)

// Categories 固定的分类目录
// 顺序即前端展示顺序
var Categories = []string{
	CategorySoftware,
	CategoryHardware,
	CategoryNetwork,
	CategorySystem,
	CategoryMobile,
	CategoryServer,
}

// IsValidCategory 判断分类是否在固定枚举内
func IsValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// QuickFix 快捷修复项
// 一组预置提示语，用户点击后以 "Help me with: <title>" 发送
type QuickFix struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// QuickFixes 预置的快捷修复目录
var QuickFixes = []QuickFix{
	{
		Title:       "Clear Cache & Cookies",
		Description: "Resolve browser issues by clearing stored data",
	},
	{
		Title:       "Restart Services",
		Description: "Fix common software issues with a service restart",
	},
	{
		Title:       "Check Connectivity",
		Description: "Diagnose network problems and connection issues",
	},
	{
		Title:       "Update Drivers",
		Description: "Fix hardware issues by updating system drivers",
	},
}
