package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/chatcore/internal/api"
	"github.com/npezzotti/chatcore/internal/chat"
	"github.com/npezzotti/chatcore/internal/chatapi"
	"github.com/npezzotti/chatcore/internal/config"
	"github.com/npezzotti/chatcore/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	defaults := config.Defaults()

	var (
		cfg            = defaults
		allowedOrigins stringSliceFlag
	)

	flag.StringVar(&cfg.ListenAddr, "addr", defaults.ListenAddr, "address the UI API listens on")
	flag.StringVar(&cfg.BrokerURL, "broker-url", defaults.BrokerURL, "STOMP over WebSocket endpoint")
	flag.StringVar(&cfg.APIBaseURL, "api-url", defaults.APIBaseURL, "chat REST API base url")
	flag.StringVar(&cfg.BotURL, "bot-url", defaults.BotURL, "chatbot REST API base url")
	flag.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", defaults.ReconnectDelay, "delay between broker reconnect attempts")
	flag.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", defaults.MaxReconnectAttempts, "give up after this many failed reconnects (0 retries forever)")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", defaults.RequestTimeout, "timeout for REST calls")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat", defaults.HeartbeatInterval, "STOMP heartbeat interval")
	flag.DurationVar(&cfg.NotificationAutoClose, "notification-auto-close", defaults.NotificationAutoClose, "close notifications after this long (0 keeps them)")
	flag.StringVar(&cfg.BotDisplayName, "bot-name", defaults.BotDisplayName, "display name for chatbot replies")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}

	logger := log.New(os.Stderr, "[chatcore] ", log.LstdFlags)

	conf, err := config.NewConfig(cfg)
	if err != nil {
		logger.Fatal("config:", err)
	}

	backend, err := chatapi.NewClient(conf.APIBaseURL, conf.BotURL, conf.RequestTimeout)
	if err != nil {
		logger.Fatal("chat api client:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	session := chat.NewSession(chat.Options{
		Logger:                logger,
		Dialer:                chat.NewStompDialer(conf.BrokerURL, conf.HeartbeatInterval, logger),
		Backend:               backend,
		Stats:                 statsUpdater,
		ReconnectDelay:        conf.ReconnectDelay,
		MaxReconnectAttempts:  conf.MaxReconnectAttempts,
		RequestTimeout:        conf.RequestTimeout,
		NotificationAutoClose: conf.NotificationAutoClose,
		BotDisplayName:        conf.BotDisplayName,
	})

	srv := api.NewChatApp(mux, logger, session, conf)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go session.Run()

	go func() {
		for err := range session.Errors() {
			logger.Println("session:", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat session...")
	if err := session.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat session shutdown:", err)
	}

	logger.Println("shutdown complete")
}
