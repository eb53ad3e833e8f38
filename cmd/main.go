package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"telemetry-hub/internal/api"
	"telemetry-hub/internal/config"
	"telemetry-hub/internal/database"
	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/handler"
	"telemetry-hub/internal/hub"
	"telemetry-hub/internal/monitor"
	"telemetry-hub/internal/server"

	"gopkg.in/natefinch/lumberjack.v2"
)

// shutdownGrace bounds how long in-flight device connections and HTTP
// requests may take to finish after a shutdown signal.
const shutdownGrace = 5 * time.Second

func main() {
	log.Println("Starting telemetry hub...")
	cfg := config.LoadConfig()
	setupLogging(cfg.LogFile, cfg.LogToConsole)
	logConfiguration(cfg)

	repo, err := database.NewRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer repo.Close()

	bus := monitor.NewBus()
	defer bus.Close()
	mon := monitor.New(monitor.Options{
		DeviceIDs:      cfg.ECGDeviceIDs,
		SamplingRate:   cfg.SamplingRate,
		DisplaySeconds: cfg.DisplaySeconds,
		WindowSeconds:  cfg.WindowSeconds,
		Filters: dsp.ChainConfig{
			Notch:      cfg.NotchFilter,
			NotchHz:    cfg.NotchHz,
			NotchQ:     cfg.NotchQ,
			HighPass:   cfg.HighPassFilter,
			HighPassHz: cfg.HighPassHz,
			LowPass:    cfg.LowPassFilter,
			LowPassHz:  cfg.LowPassHz,
			Order:      cfg.FilterOrder,
			Warmup:     cfg.FilterWarmup,
		},
		RecordingDeviceID:   cfg.RecordingDeviceID,
		MaxRecordingSamples: cfg.MaxRecordingSamples,
		ExportDir:           cfg.ExportDir,
		Ledger:              repo,
	}, bus)
	if cfg.AutoStartStreaming {
		mon.StartStreaming()
	}
	ctrl := handler.NewController(mon)

	life := &server.Lifecycle{}
	devices := handler.NewDevices(mon, life, handler.DeviceOptions{
		ReadTimeout:  cfg.ReadTimeout,
		MaxFrame:     cfg.MaxFrameBytes,
		SamplingRate: cfg.SamplingRate,
	})
	srv := server.New(cfg.ListenAddr, cfg.AcceptTimeout, devices, life)
	if err := srv.Listen(); err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, stopping services...")
		cancel()
	}()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		if err := srv.Serve(); err != nil {
			log.Printf("Device server stopped: %v", err)
		}
	})
	run(func() { mon.RunAutoRange(ctx, cfg.AutoRangeInterval) })
	run(func() { mon.RunHousekeepingCycle(ctx, cfg.HousekeepingEvery) })

	wsHub := hub.NewHub()
	hubEvents, unsubscribeHub := bus.Subscribe(256)
	defer unsubscribeHub()
	run(func() { wsHub.Run(ctx, hubEvents) })

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.SetupRouter(api.NewAPIHandler(mon, ctrl, wsHub, repo)),
	}
	run(func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	})

	if cfg.KafkaEnabled {
		producer, err := handler.NewEventProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			log.Fatalf("Failed to initialize event producer: %v", err)
		}
		kafkaEvents, unsubscribeKafka := bus.Subscribe(1024)
		defer unsubscribeKafka()
		run(func() { producer.Run(ctx, kafkaEvents) })
	}

	if cfg.MQTTEnabled {
		mqttClient, err := handler.InitializeMQTT(cfg, ctrl)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Disconnect(250)
	}

	log.Printf("Service started successfully. Devices on %s", srv.Addr())
	<-ctx.Done()

	srv.Stop()
	shutdownCtx, release := context.WithTimeout(context.Background(), shutdownGrace)
	defer release()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	waitConnections(srv, shutdownGrace)
	if err := mon.StopStreaming(); err != nil {
		log.Printf("Recording export on shutdown failed: %v", err)
	}

	wg.Wait()
	log.Println("All services closed. Exiting.")
}

func waitConnections(srv *server.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("Device connections still open after %s, exiting anyway", grace)
	}
}

func setupLogging(path string, logToConsole bool) {
	logFile := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	if logToConsole {
		mw := io.MultiWriter(os.Stdout, logFile)
		log.SetOutput(mw)
	} else {
		log.SetOutput(logFile)
	}
}

func logConfiguration(cfg *config.Config) {
	log.Println("--- Service Configuration ---")
	log.Printf("Device Listen Address: %s", cfg.ListenAddr)
	log.Printf("HTTP Address: %s", cfg.HTTPAddr)
	log.Printf("ECG Device IDs: %v", cfg.ECGDeviceIDs)
	log.Printf("Sampling Rate: %d Hz", cfg.SamplingRate)
	log.Printf("Filters: notch=%t (%.1f Hz) high-pass=%t (%.2f Hz) low-pass=%t (%.1f Hz)",
		cfg.NotchFilter, cfg.NotchHz, cfg.HighPassFilter, cfg.HighPassHz, cfg.LowPassFilter, cfg.LowPassHz)
	log.Printf("Export Dir: %s", cfg.ExportDir)
	log.Printf("DB Path: %s", cfg.DBPath)
	if cfg.KafkaEnabled {
		log.Printf("Kafka Brokers: %s (topic %s)", cfg.KafkaBrokers, cfg.EventsTopic)
	}
	if cfg.MQTTEnabled {
		log.Printf("MQTT Broker URL: %s", cfg.MQTTBroker)
		if cfg.MQTTPassword != "" {
			log.Println("MQTT Password: [SET]")
		} else {
			log.Println("MQTT Password: [NOT SET]")
		}
	}
	log.Println("---------------------------")
}
