package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/client"
	"github.com/downfa11-org/go-consumer/pkg/config"
	"github.com/downfa11-org/go-consumer/pkg/controller"
	"github.com/downfa11-org/go-consumer/pkg/disk"
	"github.com/downfa11-org/go-consumer/pkg/index"
	"github.com/downfa11-org/go-consumer/pkg/metrics"
	"github.com/downfa11-org/go-consumer/pkg/processor"
	"github.com/downfa11-org/go-consumer/pkg/server"
	"github.com/downfa11-org/go-consumer/pkg/store"
	"github.com/downfa11-org/go-consumer/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.Info("starting consumer: type=%s, topics=%v, group=%s, port=%d",
		cfg.ConsumerType, cfg.Topics, cfg.Group, cfg.QueryPort)

	idx, err := index.Open(cfg.DataDir, cfg.ConsumerType)
	if err != nil {
		util.Fatal("failed to open offset index: %v", err)
	}

	engine, err := disk.NewEngine(cfg.DataDir, cfg.ConsumerTopic(), 0, cfg.SegmentCapacity)
	if err != nil {
		util.Fatal("failed to open storage engine: %v", err)
	}

	st, err := store.NewStore(engine, idx, cfg.ConsumerType, cfg.SegmentCapacity)
	if err != nil {
		util.Fatal("failed to initialize store: %v", err)
	}

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	proc := processor.ForType(cfg.ConsumerType)
	cl := client.NewClient(cfg)
	ctrl := controller.NewController(st, proc, cl, cfg.ConsumerType)

	queryServer := server.NewQueryServer(cfg.QueryPort, st)
	go func() {
		if err := queryServer.Start(); err != nil {
			util.Fatal("query server failed: %v", err)
		}
	}()

	clientDone := make(chan error, 1)
	go func() {
		clientDone <- cl.Run(ctrl.HandleEvent)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		util.Info("received signal %s, shutting down", sig)
	case err := <-clientDone:
		if err != nil {
			util.Error("broker client stopped: %v", err)
		}
	}

	cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queryServer.Shutdown(ctx); err != nil {
		util.Error("query server shutdown error: %v", err)
	}

	if err := st.Close(); err != nil {
		util.Error("store close error: %v", err)
	}
	util.Info("consumer shutdown complete")
}
