// Package main runs the consistency experiments against a running circulation service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"libracirc/internal/chaos"
	"libracirc/internal/clients"
	"libracirc/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	_ = godotenv.Load()

	target := flag.String("target", "http://localhost:8080", "base URL of the circulation service")
	dsn := flag.String("d", os.Getenv("DATABASE_URI"), "database URI of the circulation service")
	login := flag.String("login", os.Getenv("BOOTSTRAP_OPERATOR_LOGIN"), "operator login")
	password := flag.String("password", os.Getenv("BOOTSTRAP_OPERATOR_PASSWORD"), "operator password")
	fineRate := flag.Int64("fine-rate", 500, "daily fine rate the service runs with, in cents")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Connect(ctx, *dsn)
	if err != nil {
		sugar.Fatalw("database connection error", "error", err.Error())
	}
	defer db.Close()

	desk, err := clients.NewDeskClient(*target)
	if err != nil {
		sugar.Fatalw("client error", "error", err.Error())
	}
	if err := desk.Login(ctx, *login, *password); err != nil {
		sugar.Fatalw("operator login failed", "error", err.Error())
	}

	engine := chaos.NewEngine(logger)
	chaos.NewSuite(db, desk, *fineRate, logger).Register(engine)

	failed := 0
	for _, res := range engine.RunAll(ctx) {
		if !res.HypothesisHeld {
			failed++
		}
	}
	if failed > 0 {
		sugar.Errorw("chaos run finished with violated hypotheses", "failed", failed)
		logger.Sync()
		os.Exit(1)
	}
	sugar.Info("all hypotheses held")
}
