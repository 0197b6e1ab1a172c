// Command presencebot 以无界面玩家身份加入房间，绕圈行走并打印可见的对端。
// 中继不可达时运行在进程内本地总线上
package main

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"skillrelay/internal/client"
	"skillrelay/internal/logger"
	"skillrelay/internal/peers"
	"skillrelay/internal/protocol"
	"skillrelay/internal/store"
)

func main() {
	cmd := &cli.Command{
		Name:  "presencebot",
		Usage: "walk a circle in a relay room and print visible peers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "page", Value: "http://localhost/", Usage: "page URL used for settings (query ws, room, name)"},
			&cli.StringFlag{Name: "ws", Usage: "relay URL; \"off\" for local only", Sources: cli.EnvVars("PRESENCE_WS")},
			&cli.StringFlag{Name: "room", Usage: "room to join", Sources: cli.EnvVars("PRESENCE_ROOM")},
			&cli.StringFlag{Name: "name", Usage: "display name", Sources: cli.EnvVars("PRESENCE_NAME")},
			&cli.StringFlag{Name: "color", Value: protocol.DefaultColor, Usage: "#rrggbb avatar color"},
			&cli.StringFlag{Name: "identity", Value: "presencebot.db", Usage: "SQLite file keeping room and name between runs"},
			&cli.FloatFlag{Name: "radius", Value: 6, Usage: "walk radius"},
			&cli.FloatFlag{Name: "speed", Value: 0.6, Usage: "angular speed, radians per second"},
			&cli.DurationFlag{Name: "tick", Value: 50 * time.Millisecond, Usage: "simulation step"},
			&cli.DurationFlag{Name: "print-every", Value: 2 * time.Second, Usage: "peer table interval"},
			&cli.StringFlag{Name: "emote", Value: "👋", Usage: "emote sent every emote-every; empty disables"},
			&cli.DurationFlag{Name: "emote-every", Value: 15 * time.Second},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long; 0 runs until interrupted"},
			&cli.StringFlag{Name: "log", Usage: "log file (rotated); empty logs to stderr"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := logger.Init(cmd.String("log"), cmd.String("log-level")); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("bot")

	var kv store.KV = store.Unavailable{}
	if path := cmd.String("identity"); path != "" {
		db, err := store.OpenSQLite(path)
		if err != nil {
			log.Warnf("identity store unavailable, using ephemeral identity: %v", err)
		} else {
			defer db.Close()
			kv = db
		}
	}

	page, err := url.Parse(cmd.String("page"))
	if err != nil {
		return fmt.Errorf("page: %w", err)
	}
	settings := client.ResolveSettings(page, client.Overrides{
		WS:   cmd.String("ws"),
		Room: cmd.String("room"),
		Name: cmd.String("name"),
	}, kv, log)
	log.Infof("joining room %q as %q via %s", settings.Room, settings.Name, describeURL(settings.URL))

	reg := peers.New(consoleWorld{})
	rt := client.New(client.Config{
		URL:           settings.URL,
		Room:          settings.Room,
		Name:          settings.Name,
		Color:         cmd.String("color"),
		FallbackLocal: true,
		Store:         kv,
		Log:           logger.Named("realtime"),
	}, peers.Handlers(reg, client.Handlers{
		OnConnected: func(c client.ConnectInfo) {
			log.Infof("connected as %s in %s", c.ID, c.Room)
		},
		OnDisconnected: func(d client.DisconnectInfo) {
			log.Infof("disconnected (reconnecting=%v)", d.Reconnecting)
		},
		OnPeerEmote: func(e protocol.PeerEmote) {
			fmt.Printf("%s: %s\n", e.Name, e.Emoji)
		},
		OnServerMessage: func(n protocol.ServerNotice) {
			fmt.Printf("[server] %s\n", n.Text)
		},
	}))
	rt.Connect()
	defer rt.Close()

	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var (
		tick      = cmd.Duration("tick")
		radius    = cmd.Float("radius")
		speed     = cmd.Float("speed")
		emote     = cmd.String("emote")
		angle     float64
		last      = time.Now()
		lastPrint = last
		lastEmote = last
	)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			angle = math.Mod(angle+speed*dt.Seconds(), 2*math.Pi)
			rt.SendState(protocol.PlayerState{
				X:      radius * math.Cos(angle),
				Z:      radius * math.Sin(angle),
				Yaw:    angle + math.Pi/2,
				Moving: true,
				Tool:   protocol.DefaultTool,
			})
			reg.Update(dt)

			if emote != "" && now.Sub(lastEmote) >= cmd.Duration("emote-every") {
				rt.SendEmote(emote)
				lastEmote = now
			}
			if now.Sub(lastPrint) >= cmd.Duration("print-every") {
				printPeers(reg, rt)
				lastPrint = now
			}
		}
	}
}

func describeURL(u string) string {
	if u == "" {
		return "local bus"
	}
	return u
}

func printPeers(reg *peers.Registry, rt *client.Client) {
	fmt.Printf("-- %s id=%s peers=%d\n", rt.State(), rt.LocalID(), reg.Count())
	for _, id := range reg.IDs() {
		e, ok := reg.Get(id)
		if !ok {
			continue
		}
		activity := "idle"
		switch {
		case e.Attacking:
			activity = "attacking"
		case e.Gathering:
			activity = "gathering"
		case e.Moving:
			activity = "moving"
		}
		fmt.Printf("   %-12s %-24s (%7.2f, %7.2f) yaw=%5.2f %s %s\n", id, e.Name, e.X, e.Z, e.Yaw, activity, e.Tool)
	}
}

// consoleWorld 不渲染，只记录化身的生命周期
type consoleWorld struct{}

func (consoleWorld) Spawn(id string) peers.Avatar {
	logger.Log.Infof("peer %s appeared", id)
	return consoleAvatar{id: id}
}

type consoleAvatar struct{ id string }

func (consoleAvatar) SetPose(peers.Pose) {}

func (a consoleAvatar) SetProfile(name, color string) {
	logger.Log.Debugf("peer %s is %s %s", a.id, name, color)
}

func (a consoleAvatar) Dispose() {
	logger.Log.Infof("peer %s left", a.id)
}
