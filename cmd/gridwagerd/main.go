package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vctt94/gridwager/escrow"
	"github.com/vctt94/gridwager/ledger"
	"github.com/vctt94/gridwager/ledger/agentledger"
	"github.com/vctt94/gridwager/ledger/ethledger"
	"github.com/vctt94/gridwager/negotiator"
	"github.com/vctt94/gridwager/server"
)

func realMain() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend := slog.NewBackend(os.Stderr)
	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		level = slog.LevelInfo
	}
	newLog := func(subsys string) slog.Logger {
		l := backend.Logger(subsys)
		l.SetLevel(level)
		return l
	}
	log := newLog("GRID")

	var store escrow.StateStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
		store = escrow.NewRedisStore(rdb)
		log.Infof("escrow records persisted to redis at %s", cfg.RedisAddr)
	} else {
		store = escrow.NewMemStore()
		log.Warnf("no REDIS_ADDR configured, escrow records are in-memory only")
	}

	primary, err := ethledger.New(ctx, ethledger.Config{
		RPCURL:        cfg.EthRPCURL,
		ContractAddr:  cfg.ContractAddr,
		TokenAddr:     cfg.TokenAddr,
		PrivKeyHex:    cfg.PrivKeyHex,
		ChainID:       cfg.ChainID,
		TokenDecimals: cfg.TokenDecimals,
		Log:           newLog("ETHL"),
	})
	if err != nil {
		return fmt.Errorf("primary ledger: %w", err)
	}
	defer primary.Close()

	secondary := agentledger.New(cfg.AgentURL, newLog("AGNT"))

	coord, err := escrow.NewCoordinator(escrow.Config{
		Primary:   primary,
		Secondary: secondary,
		Store:     store,
		Confirm:   ledger.DefaultConfirmPolicy,
		MinStake:  cfg.MinStake,
		MaxStake:  cfg.MaxStake,
		FeeBps:    cfg.FeeBps,
		Log:       newLog("ESCR"),
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	neg := negotiator.New(negotiator.Config{
		Bounds: negotiator.Bounds{Min: cfg.MinStake, Max: cfg.MaxStake},
		Log:    newLog("NEGO"),
	})

	srv := server.New(neg, coord, newLog("SRVR"))
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})
	return g.Wait()
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
