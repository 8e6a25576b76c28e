// Command photondb-server runs the TCP key/value reactor alongside the
// admin HTTP surface, supervising both long-running loops (plus the
// signal-triggered shutdown watcher) under one errgroup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/photondb/photondb/internal/admin"
	"github.com/photondb/photondb/internal/command"
	"github.com/photondb/photondb/internal/hashmap"
	"github.com/photondb/photondb/internal/keyspace"
	"github.com/photondb/photondb/internal/pool"
	"github.com/photondb/photondb/internal/reactor"
	"github.com/photondb/photondb/internal/snapshot"
	"github.com/photondb/photondb/pkg/errchain"
)

func main() {
	addr := flag.String("addr", "127.0.0.1", "TCP bind address for the wire protocol listener")
	port := flag.Int("port", 1234, "TCP port for the wire protocol listener")
	dbFile := flag.String("dbfile", "photon.rdb", "snapshot file path")
	idleTimeout := flag.Duration("idle-timeout", reactor.DefaultIdleTimeout, "connection idle timeout before forced close")
	poolWorkers := flag.Int("pool-workers", 4, "background worker count for large ZSET destruction")
	migrateQuantum := flag.Int("migrate-quantum", 128, "hash table chains migrated per operation")
	adminAddr := flag.String("admin-addr", "127.0.0.1:8090", "bind address for the admin HTTP surface")
	adminUser := flag.String("admin-user", "admin", "admin HTTP surface login username")
	adminPass := flag.String("admin-pass", "photondb", "admin HTTP surface login password")
	devCORS := flag.Bool("dev-cors", false, "enable permissive CORS on the admin surface for local frontend development")
	flag.Parse()

	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	hashmap.SetMigrateQuantum(*migrateQuantum)

	workers := pool.New(*poolWorkers)
	store := keyspace.New(workers.Submit)

	snap := snapshot.New(*dbFile, store, log)
	dispatch := command.New(store, snap, nil)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *addr, *port))
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}

	reactorSrv := reactor.New(ln, store, dispatch, log, *idleTimeout)

	adminSrv := admin.New(log, admin.Deps{
		Store:    store,
		Reactor:  reactorSrv,
		Pool:     workers,
		Snapshot: snap,
	}, admin.Creds{Username: *adminUser, Password: *adminPass}, []byte(*adminPass), *devCORS)

	httpServer := &http.Server{
		Addr:           *adminAddr,
		Handler:        adminSrv.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 15,
		ErrorLog:       zap.NewStdLog(log.Named("admin-http").WithOptions(zap.AddCallerSkip(1))),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("wire protocol listening", zap.String("addr", ln.Addr().String()))
		return reactorSrv.Serve(gctx)
	})

	g.Go(func() error {
		log.Info("admin HTTP listening", zap.String("addr", *adminAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		errchain.Log(log, "server failed", err)
		os.Exit(1)
	}

	workers.Close()
	log.Info("shutdown complete")
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}
