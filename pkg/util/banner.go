package util

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

// 定义颜色常量
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

// 颜色名转 ANSI 颜色码，未知名称不着色
func colorCode(name string) string {
	switch name {
	case "red":
		return ColorRed
	case "green":
		return ColorGreen
	case "yellow":
		return ColorYellow
	case "blue":
		return ColorBlue
	case "cyan":
		return ColorCyan
	default:
		return ""
	}
}

// BannerLines 生成 ASCII banner 的每一行
func BannerLines(text string) []string {
	return figure.NewFigure(text, "", true).Slicify()
}

// PrintBanner 以统一颜色打印 ASCII banner，随后一行输出版本等附加信息
func PrintBanner(w io.Writer, text, color, subtitle string) {
	ansi := colorCode(color)
	for _, line := range BannerLines(text) {
		if ansi == "" {
			fmt.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, ansi+line+ColorReset)
	}
	if subtitle != "" {
		fmt.Fprintln(w, subtitle)
	}
}
