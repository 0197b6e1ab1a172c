package protocol

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	DefaultName  = "Player"
	DefaultRoom  = "main"
	DefaultColor = "#58df78"
	DefaultTool  = "fishing"

	MaxNameLen   = 24
	MaxRoomLen   = 32
	MaxToolLen   = 24
	MaxStyleLen  = 24
	MaxEmoteLen  = 16
	MaxNoticeLen = 280
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// SanitizeName 裁剪并限长显示名；非字符串或空白返回 DefaultName
func SanitizeName(v any) string {
	s, ok := v.(string)
	if !ok {
		return DefaultName
	}
	s = clip(strings.TrimSpace(s), MaxNameLen)
	if s == "" {
		return DefaultName
	}
	return s
}

// SanitizeRoom 房间名：小写、去空白、限长
func SanitizeRoom(v any) string {
	s, ok := v.(string)
	if !ok {
		return DefaultRoom
	}
	s = clip(strings.ToLower(strings.TrimSpace(s)), MaxRoomLen)
	if s == "" {
		return DefaultRoom
	}
	return s
}

// ValidColor 是否为 #rrggbb 格式
func ValidColor(v any) bool {
	s, ok := v.(string)
	return ok && colorRe.MatchString(s)
}

// SanitizeColor 合法颜色原样返回，否则返回 DefaultColor
func SanitizeColor(v any) string {
	if ValidColor(v) {
		return v.(string)
	}
	return DefaultColor
}

// SanitizeEmote 裁剪表情文本；返回空串表示应丢弃
func SanitizeEmote(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return clip(strings.TrimSpace(s), MaxEmoteLen)
}

// SanitizeNotice 裁剪运维公告文本
func SanitizeNotice(s string) string {
	return clip(strings.TrimSpace(s), MaxNoticeLen)
}

// SanitizeState 只保留已知字段并强制转换类型，未知字段丢弃
func SanitizeState(raw map[string]any) PlayerState {
	st := PlayerState{
		X:         toNumber(raw["x"]),
		Z:         toNumber(raw["z"]),
		Yaw:       toNumber(raw["yaw"]),
		Moving:    truthy(raw["moving"]),
		Gathering: truthy(raw["gathering"]),
		Attacking: truthy(raw["attacking"]),
		Tool:      clip(toText(raw["tool"]), MaxToolLen),
	}
	if st.Tool == "" {
		st.Tool = DefaultTool
	}
	st.CombatStyle = clip(toText(raw["combatStyle"]), MaxStyleLen)
	return st
}

// Sanitize 对已是强类型的状态重新应用同一套规则
func (s PlayerState) Sanitize() PlayerState {
	out := s
	out.X = finite(s.X)
	out.Z = finite(s.Z)
	out.Yaw = finite(s.Yaw)
	out.Tool = clip(s.Tool, MaxToolLen)
	if out.Tool == "" {
		out.Tool = DefaultTool
	}
	out.CombatStyle = clip(s.CombatStyle, MaxStyleLen)
	return out
}

// clip 按 UTF-16 码元截断（不拆代理对），再去掉截断后露出的尾部空白
func clip(s string, n int) string {
	units := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if units+w > n {
			return strings.TrimRightFunc(s[:i], unicode.IsSpace)
		}
		units += w
	}
	return s
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return finite(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		t := strings.TrimSpace(x)
		if t == "" {
			return 0
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return finite(f)
	default:
		return 0
	}
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == 0 || math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return ""
	default:
		return ""
	}
}
