// Command tabcast-receiver stands in for the display server. It prints every
// session it is sent, merges them with local MPRIS players and keeps the song
// that wins in an optional output file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/genricoloni/tabcast/internal/config"
	"github.com/genricoloni/tabcast/internal/mpris"
	"github.com/genricoloni/tabcast/internal/nowplaying"
	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/genricoloni/tabcast/internal/receiver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// receiverConfig is the part of the configuration the receiver reads
type receiverConfig interface {
	GetReceiverAddr() string
	GetMprisEnabled() bool
	GetMprisPlayers() []string
	GetOutputFile() string
	GetOutputFormat() string
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	cfg.Log(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("Receiver failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, cfg receiverConfig) error {
	outputs := []func(*protocol.PlayInfo){printNowPlaying}
	if path := cfg.GetOutputFile(); path != "" {
		writer := nowplaying.NewFileWriter(logger.Named("output"), path, cfg.GetOutputFormat())
		outputs = append(outputs, writer.OnChange)
	}
	manager := nowplaying.NewManager(logger.Named("nowplaying"), func(info *protocol.PlayInfo) {
		for _, out := range outputs {
			out(info)
		}
	})
	mods := newModules(manager)

	recv := receiver.New(logger, func(u receiver.Update) {
		printUpdate(u)
		if u.Disconnected {
			mods.remove("client:" + u.ClientID)
			return
		}
		mods.update("client:"+u.ClientID, nowplaying.PriorityBrowser, u.Info())
	})
	srv := &http.Server{
		Addr:              cfg.GetReceiverAddr(),
		Handler:           recv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var players *mpris.Source
	var wg sync.WaitGroup
	if cfg.GetMprisEnabled() {
		players = mpris.NewSource(logger.Named("mpris"), mpris.WithPlayers(cfg.GetMprisPlayers()...))
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := players.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("MPRIS players unavailable", zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			followPlayers(ctx, players.Events(), mods)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Receiver listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var listenErr error
	select {
	case err := <-errCh:
		if err != nil {
			listenErr = fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := multierr.Combine(listenErr, recv.Close(), srv.Shutdown(shutdownCtx))
	if players != nil {
		err = multierr.Append(err, players.Stop(shutdownCtx))
	}
	// a failed listen returns before ctx ends, so the player goroutines may still run
	if listenErr == nil {
		wg.Wait()
	}
	return err
}

// followPlayers turns player sessions into modules until the source closes
func followPlayers(ctx context.Context, sessions <-chan mpris.Session, mods *modules) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			if s.Removed {
				mods.remove("player:" + s.Player)
				continue
			}
			mods.update("player:"+s.Player, nowplaying.PriorityPlayer, s.Info)
		}
	}
}

// modules maps session keys to manager modules
type modules struct {
	manager *nowplaying.Manager
	mu      sync.Mutex
	ids     map[string]int
}

func newModules(manager *nowplaying.Manager) *modules {
	return &modules{manager: manager, ids: make(map[string]int)}
}

func (m *modules) update(key string, priority int, info *protocol.PlayInfo) {
	m.mu.Lock()
	id, ok := m.ids[key]
	if !ok {
		id = m.manager.Create(priority)
		m.ids[key] = id
	}
	m.mu.Unlock()
	m.manager.Update(id, info)
}

func (m *modules) remove(key string) {
	m.mu.Lock()
	id, ok := m.ids[key]
	delete(m.ids, key)
	m.mu.Unlock()
	if ok {
		m.manager.Remove(id)
	}
}

func printUpdate(u receiver.Update) {
	if !u.Active {
		fmt.Printf("[%s] inactive\n", u.ClientID[:8])
		return
	}

	title := u.Display()
	line := title.Title
	if title.Subtitle != "" {
		line = title.Subtitle + " - " + line
	}

	var source string
	switch {
	case u.PlayInfo != nil:
		source = u.PlayInfo.Source
		if tl := u.PlayInfo.Timeline; tl != nil {
			line += fmt.Sprintf(" (%s / %s)",
				time.Duration(tl.ProgressMs)*time.Millisecond,
				time.Duration(tl.DurationMs)*time.Millisecond)
		}
	case u.Legacy != nil:
		source = "legacy"
	}
	fmt.Printf("[%s] %s <%s>\n", u.ClientID[:8], line, source)
}

func printNowPlaying(info *protocol.PlayInfo) {
	if info == nil {
		fmt.Println("now playing: nothing")
		return
	}
	line := info.Title
	if info.Artist != "" {
		line = info.Artist + " - " + line
	}
	fmt.Printf("now playing: %s <%s>\n", line, info.Source)
}
