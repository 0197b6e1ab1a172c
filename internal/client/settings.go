package client

import (
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"skillrelay/internal/protocol"
	"skillrelay/internal/store"
)

// 身份持久化使用的键
const (
	KeyRoom = "skilling.room"
	KeyName = "skilling.name"
	KeyWS   = "skilling.ws"
)

// ProductionURL 非本地页面默认使用的中继
const ProductionURL = "wss://relay.skilling.app/ws"

// DevPort 本地开发主机默认的中继端口
const DevPort = "8081"

// Overrides 宿主提供的覆盖项，优先级仅次于查询参数
type Overrides struct {
	WS   string
	Room string
	Name string
}

// Settings 解析后的客户端身份；显式关闭中继时 URL 为空，只剩本地传输
type Settings struct {
	URL  string
	Room string
	Name string
}

// ResolveSettings 按 查询参数(ws/room/name) → overrides → 存储 → 默认值 的优先级
// 解析配置并持久化；存储错误只记日志。page 与 kv 可为 nil
func ResolveSettings(page *url.URL, o Overrides, kv store.KV, log *zap.SugaredLogger) Settings {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var q url.Values
	if page != nil {
		q = page.Query()
	}
	stored := func(key string) string {
		if kv == nil {
			return ""
		}
		v, ok, err := kv.Get(key)
		if err != nil {
			log.Debugw("settings read failed", "key", key, "err", err)
			return ""
		}
		if !ok {
			return ""
		}
		return v
	}

	ws, explicit := firstNonEmpty(q.Get("ws"), o.WS, stored(KeyWS))
	if !explicit {
		ws = defaultURL(page)
	}
	room, _ := firstNonEmpty(q.Get("room"), o.Room, stored(KeyRoom))
	name, _ := firstNonEmpty(q.Get("name"), o.Name, stored(KeyName))

	s := Settings{
		Room: protocol.SanitizeRoom(room),
		Name: protocol.SanitizeName(name),
	}
	switch strings.ToLower(ws) {
	case "off", "local", "none":
	default:
		s.URL = ws
	}

	if kv != nil {
		persist := func(key, value string) {
			if err := kv.Set(key, value); err != nil {
				log.Debugw("settings write failed", "key", key, "err", err)
			}
		}
		persist(KeyRoom, s.Room)
		persist(KeyName, s.Name)
		if explicit {
			persist(KeyWS, ws)
		}
	}
	return s
}

func firstNonEmpty(vals ...string) (string, bool) {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

func defaultURL(page *url.URL) string {
	if page == nil {
		return ProductionURL
	}
	host := page.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return "ws://" + net.JoinHostPort(host, DevPort) + "/ws"
	}
	return ProductionURL
}
