package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"backend-kapture/internal/config"
	"backend-kapture/internal/run"
	"backend-kapture/internal/stream"
)

func main() {
	cfg := config.Load()
	streamURL := flag.String("stream", cfg.StreamURL, "broadcast server ingest URL")
	user := flag.String("user", "local-runner", "user id to run as")
	duration := flag.Duration("duration", time.Minute, "how long to run before stopping")
	lat := flag.Float64("lat", -6.2, "loop center latitude")
	lng := flag.Float64("lng", 106.816, "loop center longitude")
	flag.Parse()

	client := stream.NewStreamingClient(*streamURL)
	if !client.Connect() {
		log.Printf("no broadcast server, spectating disabled")
	}
	defer client.Disconnect()

	engine := run.NewEngine(run.EngineConfig{
		Source:      newLoopSource(*lat, *lng),
		Broadcaster: client,
		Observer: func(s run.Stats) {
			fmt.Printf("\r%.3f km  %ds  pace %.0f s/km  area %.0f m2   ",
				s.DistanceKm, s.DurationSec, s.AveragePaceSecPerKm, s.CapturedAreaM2)
		},
	})

	runID, err := engine.Start(context.Background(), *user)
	if err != nil {
		log.Fatalf("start run: %v", err)
	}
	log.Printf("run %s started, streaming to %s", runID, *streamURL)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-signals:
	case <-time.After(*duration):
	}

	final := engine.Stop(context.Background())
	fmt.Printf("\nfinal: %.3f km in %ds, pace %.0f s/km, area %.0f m2\n",
		final.DistanceKm, final.DurationSec, final.AveragePaceSecPerKm, final.CapturedAreaM2)
}

const (
	loopRadiusM  = 100.0
	loopSpeedMps = 2.8
	degPerMeter  = 1.0 / 111320.0
)

// loopSource fakes a device location provider: fixes at the requested
// interval, jogging around a circle at a steady pace.
type loopSource struct {
	lat, lng float64

	mu     sync.Mutex
	angle  float64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newLoopSource(lat, lng float64) *loopSource {
	return &loopSource{lat: lat, lng: lng}
}

func (s *loopSource) Start(ctx context.Context, opts run.SourceOptions, fn func(run.LocationPoint)) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	interval := time.Duration(opts.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	step := loopSpeedMps * interval.Seconds() / loopRadiusM

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.angle += step
				angle := s.angle
				s.mu.Unlock()
				fn(run.LocationPoint{
					Latitude:    s.lat + loopRadiusM*degPerMeter*math.Sin(angle),
					Longitude:   s.lng + loopRadiusM*degPerMeter*math.Cos(angle),
					TimestampMs: time.Now().UnixMilli(),
					AccuracyM:   5,
				})
			}
		}
	}()
	return nil
}

func (s *loopSource) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
