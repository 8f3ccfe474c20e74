package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/casetrail/casealert/internal/config/dispatcher"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/obs"
	"github.com/casetrail/casealert/internal/push"
	"github.com/casetrail/casealert/internal/repository/kafka"
	pg "github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/rules"
	"github.com/casetrail/casealert/internal/services/api"
	"github.com/casetrail/casealert/internal/services/consumer"
	"github.com/casetrail/casealert/internal/services/delivery"
	"github.com/casetrail/casealert/internal/services/scanner"
)

func main() {
	cfgPath := flag.String("config", "config/dispatcher.yaml", "config file path")
	flag.Parse()

	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	// otel
	otelCfg := cfg.AsOTELConfig()
	otelCloser, err := obs.SetupOTel(root, &otelCfg)
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// rule table
	table, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		l.Fatal("load rule table", zap.Error(err))
	}

	// db
	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Metrics.Addr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// kafka
	if err := kafka.EnsureTopic(root, cfg.Kafka.Brokers, kafka.TopicSpec{
		Name:          cfg.Kafka.Topic,
		NumPartitions: cfg.Kafka.Partitions,
		MaxWait:       30 * time.Second,
	}, l); err != nil {
		l.Warn("ensure topic", zap.Error(err))
	}

	prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()
	events := kafka.NewLogEventsKafka(prod)

	cons := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Kafka.GroupID,
		Topic:         cfg.Kafka.Topic,
		FromBeginning: cfg.Kafka.FromBeginning,
		Logger:        l,
	})
	defer func() { _ = cons.Close() }()

	// push sender
	sender, err := push.NewFCM(root, cfg.Push, l)
	if err != nil {
		l.Fatal("fcm init", zap.Error(err))
	}

	// wiring
	clock := notifylog.SystemClock{}
	caseRepo := pg.NewCaseRepo(db)
	userRepo := pg.NewUserRepo(db)
	logRepo := pg.NewLogRepo(db)
	pendingRepo := pg.NewPendingRepo(db)
	transactor := pg.NewTransactor(db, l)

	fan := delivery.NewFanout(l, caseRepo, userRepo, pendingRepo, sender, clock, cfg.Pending.Retention)
	flusher := delivery.NewFlusher(l, pendingRepo, sender)

	consUC := consumer.NewUC(l, logRepo, caseRepo, table, fan, cfg.Consumer.StaleAfter)
	runner := consumer.NewRunner(l, cons, consUC)
	poller := consumer.NewPoller(l, logRepo, consUC, cfg.Consumer)

	scanUC := scanner.NewUC(l, caseRepo, logRepo, events, table, clock, transactor)
	scanRunner := scanner.NewRunner(scanUC, l, cfg.Scan)

	handler := api.NewHandler(l, caseRepo, userRepo, table, consUC, scanUC, fan, flusher, sender, clock)
	server := api.NewServer(l, cfg.HTTP, handler)

	// start
	errCh := make(chan error, 4)
	go func() { errCh <- runner.Run(root) }()
	go func() { errCh <- poller.Run(root) }()
	go func() { errCh <- scanRunner.Run(root) }()
	go func() { errCh <- server.Run(root) }()

	// loop
	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("component error", zap.Error(err))
		}
		stop()
	}

	// graceful metrics server shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
