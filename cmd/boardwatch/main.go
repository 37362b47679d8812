// Boardwatch - photographs a whiteboard whenever its content changes and nobody is in the way
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boardwatch/boardwatch/internal/camera"
	"github.com/boardwatch/boardwatch/internal/camera/opencv"
	"github.com/boardwatch/boardwatch/internal/catalog"
	"github.com/boardwatch/boardwatch/internal/config"
	"github.com/boardwatch/boardwatch/internal/orchestrator"
	"github.com/boardwatch/boardwatch/internal/preview"
	"github.com/boardwatch/boardwatch/internal/resilience"
	"github.com/boardwatch/boardwatch/internal/server"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load(config.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Opening the capture device is the only fatal startup condition
	dev, err := openDevice(ctx, cfg)
	if err != nil {
		slog.Error("failed to open capture device", "index", cfg.CameraIndex, "replay", cfg.ReplayDir, "error", err)
		os.Exit(1)
	}
	cam := camera.NewCapturer(dev, nil)
	defer func() {
		if err := cam.Close(); err != nil {
			slog.Warn("camera close error", "error", err)
		}
		slog.Info("camera released")
	}()

	var opts []orchestrator.Option
	if cfg.CatalogPath != "" {
		cat, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			slog.Error("catalog disabled", "path", cfg.CatalogPath, "error", err)
		} else {
			defer cat.Close()
			opts = append(opts, orchestrator.WithCatalog(cat))
		}
	}

	orch := orchestrator.New(cam, cfg, opts...)

	var rpc *server.GRPCServer
	if cfg.GRPCAddr != "" {
		rpc = server.NewGRPCServer()
		rpc.WatchBreaker(cam.Breaker())
		rpc.RegisterBoard(orch)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			slog.Error("grpc listen error", "addr", cfg.GRPCAddr, "error", err)
			rpc = nil
		} else {
			go func() {
				if err := rpc.Serve(lis); err != nil {
					slog.Error("grpc server error", "error", err)
				}
			}()
		}
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     server.New(orch).Handler(),
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	slog.Info("boardwatch starting",
		"camera", cfg.CameraName,
		"interval", cfg.Interval(),
		"threshold", cfg.ChangeThreshold,
		"output", cfg.OutputDir,
		"http", cfg.HTTPAddr,
		"grpc", cfg.GRPCAddr)

	if err := orch.Start(ctx); err != nil {
		slog.Error("capture run failed to start", "error", err)
	} else if cfg.Preview {
		// blocks until q, a signal, or the run ends
		pctx, pcancel := context.WithCancel(ctx)
		go func() {
			<-orch.Done()
			pcancel()
		}()
		preview.Run(pctx, cam.Preview(), orch.Quit)
		pcancel()
	}

	select {
	case <-ctx.Done():
	case <-orch.Done():
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}
	if rpc != nil {
		rpc.GracefulStop()
	}

	// waits for the in-flight cycle and closes the catalog run
	if err := orch.Stop(shutdownCtx); err != nil {
		slog.Warn("capture run stop", "error", err)
	}
	slog.Info("shutdown complete")
}

func openDevice(ctx context.Context, cfg *config.Config) (camera.Device, error) {
	if cfg.ReplayDir != "" {
		return camera.OpenReplay(cfg.ReplayDir)
	}
	var dev *opencv.Device
	err := resilience.Retry(ctx, resilience.DeviceOpenRetryConfig(), func() error {
		d, err := opencv.Open(cfg.CameraIndex, cfg.FrameWidth, cfg.FrameHeight)
		if err != nil {
			slog.Warn("camera open failed", "index", cfg.CameraIndex, "error", err)
			return err
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}
