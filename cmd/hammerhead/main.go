package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hammerhead/internal/config"
	"hammerhead/internal/httpapi"
	"hammerhead/internal/logger"
	"hammerhead/pkg/api"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "hammerhead:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l := logger.New(logger.Options{
		Level:    cfg.Log.Level,
		Writers:  cfg.Log.Writer,
		Filename: cfg.Log.File,
	})

	svc, err := api.NewService(cfg, l)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Close(context.Background())
		return err
	}

	apiSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           httpapi.NewServer(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("[Main] 控制接口已启动", "addr", cfg.API.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("[Main] 收到退出信号")
	case err = <-errCh:
		l.Err(err, "[Main] 控制接口异常退出")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, apiSrv.Shutdown(shutdownCtx), svc.Close(shutdownCtx))
}
