// Package main is the entry point for the feedview terminal client.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mglns/feedview/internal/config"
	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/feedtui"
	"github.com/mglns/feedview/internal/logging"
	"github.com/mglns/feedview/internal/realtime"
	"github.com/mglns/feedview/internal/transport"
)

var (
	version = "dev"

	flagConfig   string
	flagServer   string
	flagChannel  string
	flagDemo     bool
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:     "feedview",
		Short:   "Terminal client for live channel feeds",
		Version: version,
		RunE:    run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	root.Flags().StringVar(&flagServer, "server", "", "chat server base URL")
	root.Flags().StringVar(&flagChannel, "channel", "general", "channel to open")
	root.Flags().BoolVar(&flagDemo, "demo", false, "run against scripted in-memory traffic")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "minimum log level")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	loader := config.NewLoader()
	if flagConfig != "" {
		loader.SetConfigFile(flagConfig)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if flagServer != "" {
		cfg.Server.URL = flagServer
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	var provider transport.Provider
	var resolve realtime.NameResolver
	viewerID := cfg.Server.ViewerID

	switch {
	case flagDemo:
		viewerID = "viewer"
		demo := transport.NewMemoryProvider(viewerID)
		resolve = seedDemo(demo, flagChannel)
		go scriptDemo(demo, flagChannel)
		provider = demo
	default:
		if cfg.Server.URL == "" {
			return fmt.Errorf("server URL required (flag --server, config server.url, or --demo)")
		}
		ws, err := transport.NewWSProvider(transport.WSConfig{
			BaseURL:  cfg.Server.URL,
			ViewerID: viewerID,
			Token:    cfg.Server.Token,
		})
		if err != nil {
			return err
		}
		defer ws.Close()
		provider = ws
	}

	store := entity.NewStore()
	return feedtui.Run(store, provider, flagChannel, feedtui.Options{
		ViewerID:       viewerID,
		ShowJoinLeave:  cfg.Feed.ShowJoinLeave,
		GroupingWindow: cfg.Feed.GroupingWindow,
		TypingTimeout:  cfg.Feed.TypingTimeout,
		Overscan:       cfg.Feed.Overscan,
		PageSize:       cfg.Feed.PageSize,
		Resolve:        resolve,
	})
}

var demoNames = map[string]string{
	"viewer": "You",
	"ada":    "Ada",
	"grace":  "Grace",
	"linus":  "Linus",
}

func seedDemo(p *transport.MemoryProvider, channelID string) realtime.NameResolver {
	now := time.Now().UTC()
	users := []string{"ada", "grace", "linus"}
	msgs := make([]entity.Message, 0, 240)
	for i := 0; i < 240; i++ {
		msgs = append(msgs, entity.Message{
			ID:        fmt.Sprintf("seed-%04d", i),
			UserID:    users[i%len(users)],
			ChannelID: channelID,
			Body:      fmt.Sprintf("message %d — some scripted history to page through", i),
			CreateAt:  now.Add(-time.Duration(240-i) * 3 * time.Minute),
		})
	}
	p.Seed(channelID, msgs)
	return func(userID string) string { return demoNames[userID] }
}

func scriptDemo(p *transport.MemoryProvider, channelID string) {
	i := 0
	for range time.Tick(4 * time.Second) {
		i++
		user := []string{"ada", "grace", "linus"}[i%3]
		p.Publish(realtime.Event{Kind: realtime.KindTyping, Typing: &realtime.Typing{
			ChannelID: channelID,
			UserID:    user,
		}})
		time.Sleep(2 * time.Second)
		p.Publish(realtime.Event{Kind: realtime.KindMessageCreated, Message: &entity.Message{
			ID:        fmt.Sprintf("live-%04d", i),
			UserID:    user,
			ChannelID: channelID,
			Body:      fmt.Sprintf("live message %d", i),
			CreateAt:  time.Now().UTC(),
		}})
	}
}
