package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/meeting-notes-lab/internal/broker"
	"github.com/meeting-notes-lab/internal/capture"
	"github.com/meeting-notes-lab/internal/config"
	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/internal/notify"
	"github.com/meeting-notes-lab/internal/pipeline"
	"github.com/meeting-notes-lab/internal/session"
	"github.com/meeting-notes-lab/internal/storage"
	"github.com/meeting-notes-lab/internal/stt"
	"github.com/meeting-notes-lab/internal/transport"
	"github.com/meeting-notes-lab/llm"
)

func main() {
	sugar := logging.Init()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	meetingID := os.Getenv("MEETING_ID")
	if meetingID == "" {
		sugar.Fatal("MEETING_ID required")
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		sugar.Fatalf("aws config: %v", err)
	}

	store := meeting.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.MeetingsTable)
	objects := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AudioBucket)

	publisher, err := notify.Connect(cfg.NATSURL)
	if err != nil {
		sugar.Fatalf("nats connect: %v", err)
	}
	defer publisher.Close()

	rooms := broker.NewClient(cfg.BrokerURL, cfg.TokenKey, cfg.TokenTTL, cfg.DisplayName)
	dialer := transport.NewWSDialer()

	capBuf := capture.NewBuffer(store, objects, nil, cfg.SampleRate, cfg.ChunkInterval)
	registry := session.NewRegistry()
	machine := session.NewMachine(rooms, dialer, store, capBuf, registry)

	transcriber := stt.NewClient(cfg.STTURL)
	gateway := llm.NewClient(cfg.LLMURL, cfg.LLMKey)
	generator := pipeline.NewLLMGenerator(store, gateway, cfg.LLMModel)
	pipe := pipeline.New(store, transcriber, generator, capBuf, cfg.Pipeline.StageTimeout, cfg.Pipeline.FlushWait)

	orch := session.NewOrchestrator(meetingID, machine, registry, capBuf, pipe, store, publisher)

	sugar.Infow("starting meeting session", "meeting.id", meetingID)
	if err := orch.StartVideoMeeting(ctx); err != nil {
		sugar.Fatalf("start meeting: %v", err)
	}

	if os.Getenv("CAPTURE_ON_START") == "true" {
		// tracks may not be negotiated yet; retry briefly before giving up
		go func() {
			for i := 0; i < 10; i++ {
				err := orch.StartAudioCapture()
				if err == nil {
					return
				}
				if err != capture.ErrNoAudioTracks && err != session.ErrNotConnected {
					logging.Warnw("audio capture failed to start", "err", err)
					return
				}
				time.Sleep(2 * time.Second)
			}
			logging.Warnw("audio capture never started; no audio tracks appeared")
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, ending session")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.EndCall(shutdownCtx); err != nil {
		sugar.Warnf("session teardown error: %v", err)
	}

	if os.Getenv("NOTES_ON_EXIT") == "true" {
		if err := orch.RunNotesPipeline(shutdownCtx); err != nil {
			sugar.Warnf("notes pipeline failed: %v", err)
		}
	}

	_ = logging.Sync()
	sugar.Info("shutdown complete")
}
