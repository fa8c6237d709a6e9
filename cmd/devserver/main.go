package main

import (
	"context"
	"flag"
	"time"

	"fieldsync/pkg/devserver"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/state/shutdown"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8889", "listen address")
	prefix := flag.String("prefix", "/", "instance path")
	username := flag.String("username", "dev", "author of fragments uploaded without a user header")
	maxUpload := flag.Int64("max-upload-bytes", 8<<20, "largest accepted request body")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Init(*level, "")
	defer logger.Sync()

	srv := devserver.New(devserver.Options{Prefix: *prefix, Username: *username, MaxUploadBytes: *maxUpload})
	fs := &fasthttp.Server{
		Handler:            fasthttpadaptor.NewFastHTTPHandler(srv.Handler()),
		Name:               "fieldsync-devserver",
		MaxRequestBodySize: int(*maxUpload) + 1<<20,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		logger.Info("devserver_listening", "addr", *addr, "prefix", *prefix)
		errc <- fs.ListenAndServe(*addr)
	}()

	select {
	case err := <-errc:
		if err != nil {
			shutdown.Abort("devserver failed", err, "")
		}
	case <-ctx.Done():
		if err := fs.Shutdown(); err != nil {
			logger.Error("devserver_shutdown_failed", "error", err)
		}
		logger.Info("devserver_stopped")
	}
}
