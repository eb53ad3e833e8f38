package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"telemetry-hub/internal/config"
	"telemetry-hub/internal/sim"
)

// retryDelay is the wait before reconnecting a dropped stream.
const retryDelay = 2 * time.Second

func main() {
	cfg := config.LoadSimConfig()
	log.Printf("Simulating %d ECG device(s) at %.0f BPM against %s", len(cfg.DeviceIDs), cfg.HeartRate, cfg.Target)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Patients {
		for _, id := range cfg.DeviceIDs {
			rec := sim.RandomPatient(faker, id)
			if err := sim.SendPatient(ctx, cfg.Target, rec); err != nil {
				log.Printf("Patient transfer for device %d failed: %v", id, err)
				continue
			}
			log.Printf("Sent patient %s %s for device %d", rec.FirstName, rec.PaternalSurname, id)
		}
	}

	var wg sync.WaitGroup
	for i, id := range cfg.DeviceIDs {
		id := id // per-iteration copy; module targets go1.21 loop semantics
		// Offset each device's rate so the traces are distinguishable.
		gen := sim.NewECG(float64(cfg.SamplingRate), cfg.HeartRate+float64(6*i), cfg.Noise, cfg.Gain)
		wg.Add(1)
		go func() {
			defer wg.Done()
			retry(ctx, "ECG", func() error {
				return sim.StreamECG(ctx, cfg.Target, id, cfg.SamplingRate, cfg.Batch, gen)
			})
		}()
	}
	if cfg.SpO2 {
		gen := sim.NewSpO2(float64(cfg.SamplingRate), cfg.SpO2Base)
		wg.Add(1)
		go func() {
			defer wg.Done()
			retry(ctx, "SPO2", func() error {
				return sim.StreamSpO2(ctx, cfg.Target, cfg.SamplingRate, cfg.Batch, gen)
			})
		}()
	}

	wg.Wait()
	log.Println("Simulator stopped.")
}

func retry(ctx context.Context, name string, stream func() error) {
	for {
		err := stream()
		if ctx.Err() != nil {
			return
		}
		log.Printf("%s stream ended: %v, reconnecting in %s", name, err, retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}
