package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/napcatbridge/adapter"
	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/config"
	"github.com/smallnest/napcatbridge/correlation"
	"github.com/smallnest/napcatbridge/gateway"
	"github.com/smallnest/napcatbridge/heartbeat"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/onebot"
	"github.com/smallnest/napcatbridge/router"
	"github.com/smallnest/napcatbridge/transcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	runVerbose bool
	runNoWatch bool
)

// RunCommand returns the run command
func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  `Listen for the Napcat reverse WebSocket and connect to the configured MaiBot routes.`,
		RunE:  runBridge,
	}
	cmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Verbose output")
	cmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Do not reload routes when the config file changes")
	return cmd
}

func runBridge(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := cfg.Log.Level
	if runVerbose {
		logLevel = "debug"
	}
	if err := logger.Init(logLevel, cfg.Log.Development); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() // nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := NewBridge(cfg)
	if err != nil {
		return err
	}

	if !runNoWatch {
		err := config.Watch(configPath, func(next *config.Config) {
			b.Reload(next)
			if !runVerbose {
				logger.SetLevel(next.Log.Level)
			}
		})
		if err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	return b.Run(ctx)
}

// Bridge 组装好的全部组件
type Bridge struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    *correlation.Store[*onebot.Response]
	monitor  *heartbeat.Monitor
	server   *gateway.Server
	router   *router.Router
	receiver *adapter.Receiver
	sender   *adapter.Sender
	log      *zap.Logger
}

// NewBridge 按配置创建组件，不启动任何 goroutine
func NewBridge(cfg *config.Config) (*Bridge, error) {
	messageBus := bus.NewMessageBus(256)
	store := correlation.NewStore[*onebot.Response](correlation.WithWindow(cfg.Napcat.ActionTimeout))
	monitor := heartbeat.NewMonitor(heartbeat.WithDefaultInterval(cfg.Napcat.HeartbeatInterval))

	server := gateway.NewServer(gateway.Config{
		Host:          cfg.Napcat.Host,
		Port:          cfg.Napcat.Port,
		Path:          cfg.Napcat.Path,
		AccessToken:   cfg.Napcat.AccessToken,
		ActionTimeout: cfg.Napcat.ActionTimeout,
		PingInterval:  cfg.Napcat.PingInterval,
	}, messageBus, store, monitor)

	rt := router.New(cfg.RouteTable(), router.BusHandler(messageBus), router.Options{
		ReconnectInterval: cfg.Router.ReconnectInterval,
		MonitorInterval:   cfg.Router.MonitorInterval,
	})

	transcodeLog := logger.Named("transcode")
	inbound := transcode.NewInbound(
		transcode.NewHTTPImageFetcher(cfg.Image.Timeout),
		cfg.Image.ForwardImageLimit,
		transcodeLog,
	)
	receiver, err := adapter.NewReceiver(adapter.ReceiverConfig{
		Platform:       cfg.Platform,
		GroupCacheSize: cfg.Cache.GroupInfoSize,
		GroupCacheTTL:  cfg.Cache.GroupInfoTTL,
	}, messageBus, inbound, rt)
	if err != nil {
		return nil, err
	}

	sender := adapter.NewSender(adapter.SenderConfig{
		Rate:  cfg.Napcat.SendRate,
		Burst: cfg.Napcat.SendBurst,
	}, messageBus, transcode.NewOutbound(transcodeLog), server)

	return &Bridge{
		cfg:      cfg,
		bus:      messageBus,
		store:    store,
		monitor:  monitor,
		server:   server,
		router:   rt,
		receiver: receiver,
		sender:   sender,
		log:      logger.Named("bridge"),
	}, nil
}

// Addr 网关实际监听地址
func (b *Bridge) Addr() string {
	return b.server.Addr()
}

// Reload 应用新配置中的路由表
func (b *Bridge) Reload(next *config.Config) {
	b.router.UpdateConfig(next.RouteTable())
}

// Start 绑定监听端口，失败直接返回
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	b.log.Info("Bridge started",
		zap.String("listen", b.server.Addr()),
		zap.String("path", b.cfg.Napcat.Path),
		zap.Strings("platforms", b.router.Table().Platforms()))
	return nil
}

// Serve 运行后台循环直到 ctx 结束，之后关闭所有组件
func (b *Bridge) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.store.Run(gctx, b.cfg.Napcat.HeartbeatInterval) })
	g.Go(func() error { return b.router.Run(gctx) })
	g.Go(func() error { return b.receiver.Run(gctx) })
	g.Go(func() error { return b.sender.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		b.log.Info("Shutting down bridge")
		err := b.server.Stop()
		b.monitor.Stop()
		_ = b.bus.Close()
		return err
	})

	return g.Wait()
}

// Run 启动并运行直到 ctx 结束
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Serve(ctx)
}
