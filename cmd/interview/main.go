package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/config"
	"github.com/lokutor-ai/lokutor-realtime/pkg/device"
	"github.com/lokutor-ai/lokutor-realtime/pkg/logging"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	envFile := flag.String("env", ".env", "path to .env file")
	candidatePath := flag.String("candidate", "", "path to JSON candidate profile")
	instructionsPath := flag.String("instructions", "", "file whose text replaces the generated instructions")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()
	logger := logging.NewAdapter(zl)

	profile, err := loadProfile(*candidatePath)
	if err != nil {
		zl.Fatal("failed to load candidate profile", zap.Error(err))
	}

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := realtime.NewMetrics(reg)
	if cfg.Metrics.Address != "" {
		srv := serveMetrics(cfg.Metrics.Address, reg, zl)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// 2. Audio devices
	audioCtx, err := device.NewContext(logger)
	if err != nil {
		zl.Fatal("failed to init audio", zap.Error(err))
	}
	defer audioCtx.Close()

	speaker := audioCtx.Speaker(cfg.Audio.SampleRate, cfg.Audio.PlaybackBuffer)
	defer speaker.Close()

	var source realtime.AudioSource = audioCtx.Microphone()
	var sink realtime.AudioSink = speaker
	var callerRec, remoteRec *audio.Recorder
	if cfg.Recording.Dir != "" {
		callerRec = audio.NewRecorder(cfg.Audio.SampleRate, cfg.Recording.MaxBytes)
		remoteRec = audio.NewRecorder(cfg.Audio.SampleRate, cfg.Recording.MaxBytes)
		source = device.NewTapSource(source, callerRec)
		sink = device.NewTapSink(sink, remoteRec)
	}

	// 3. Interview
	client := realtime.NewWithLogger(cfg.RealtimeConfig(), source, sink, logger)
	client.SetMetrics(metrics)

	iv := realtime.NewInterviewWithLogger(client, profile, logger)
	iv.SetMaxQuestions(cfg.Interview.MaxQuestions)
	iv.SetBargeIn(cfg.Interview.BargeIn)
	if *instructionsPath != "" {
		text, err := os.ReadFile(*instructionsPath)
		if err != nil {
			zl.Fatal("failed to read instructions", zap.Error(err))
		}
		iv.SetInstructions(strings.TrimSpace(string(text)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := iv.Start(ctx)
	if err != nil {
		zl.Fatal("failed to start interview", zap.Error(err))
	}
	if err := client.StartMicrophone(ctx); err != nil {
		iv.End()
		zl.Fatal("failed to start microphone", zap.Error(err))
	}
	fmt.Printf("Interview %s started. Press Ctrl+C to finish.\n", session.ID)

	watch(ctx, iv)

	fmt.Printf("\nEnding interview...\n")
	transcript, err := iv.End()
	if err != nil {
		zl.Warn("disconnect incomplete", zap.Error(err))
	}

	if cfg.Recording.Dir != "" {
		report := Report{
			SessionID:      session.ID,
			Candidate:      profile,
			StartedAt:      session.CreatedAt,
			EndedAt:        time.Now(),
			QuestionsAsked: iv.QuestionsAsked(),
			Transcript:     transcript,
		}
		dir, err := saveSession(cfg.Recording.Dir, report, callerRec, remoteRec)
		if err != nil {
			zl.Error("failed to save session", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("Session saved to %s\n", dir)
	}
}

// watch prints interview events until the user stops or the session ends.
func watch(ctx context.Context, iv *realtime.Interview) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-iv.Events():
			if !ok {
				return
			}
			switch event.Type {
			case realtime.StateChanged:
				change := event.Data.(realtime.StateChange)
				fmt.Printf("\r\033[K[STATE] %s -> %s\n", change.From, change.To)
			case realtime.SpeechStarted:
				fmt.Printf("\r\033[K[CALLER] Speaking...\n")
			case realtime.TranscriptFinal:
				item := event.Data.(realtime.TranscriptItem)
				fmt.Printf("\r\033[K[%s] %s\n", strings.ToUpper(string(item.Role)), item.Text)
			case realtime.Interrupted:
				fmt.Printf("\r\033[K[INTERRUPTED]\n")
			case realtime.ErrorEvent:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
			case realtime.Disconnected:
				if err, ok := event.Data.(error); ok && err != nil {
					fmt.Printf("\r\033[K[DISCONNECTED] %v\n", err)
				} else {
					fmt.Printf("\r\033[K[DISCONNECTED]\n")
				}
				return
			}
		}
	}
}

func loadProfile(path string) (*realtime.CandidateProfile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var profile realtime.CandidateProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("profile %s has no name", path)
	}
	return &profile, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, zl *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("metrics server failed", zap.Error(err))
		}
	}()
	zl.Info("serving metrics", zap.String("address", addr))
	return srv
}
