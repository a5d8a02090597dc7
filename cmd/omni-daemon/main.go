package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"omni/internal/audio"
	"omni/internal/ipc"
	"omni/internal/memory"
	"omni/internal/notify"
	"omni/internal/pipeline"
	"omni/internal/proxy"
	"omni/internal/server"
	"omni/internal/toolbox"
	"omni/internal/trigger"
	"omni/pkg/audiofile"
	"omni/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	addr := cli.StringP("addr", "a", "127.0.0.1:8000", "HTTP listen address")
	proxyAddr := cli.StringP("proxy", "p", "", "Optional SOCKS5 proxy address for the OpenAI API")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	modelPath := cli.StringP("model", "m", "third_party/whisper.cpp/models/ggml-base.bin", "Whisper model path")
	dbPath := cli.String("db", "omni.db", "Memory store sqlite path (empty disables persistence)")
	socketPath := cli.String("socket", ipc.DefaultSocketPath, "Control socket path")
	cuePath := cli.String("cue", "", "Optional mp3 played when a spoken query is picked up")
	chatModel := cli.String("chat-model", "", "Chat model override")
	embedModel := cli.String("embed-model", "", "Embedding model override")
	window := cli.Duration("window", 30*time.Minute, "stream_context retrieval window (0 disables)")
	aggressiveness := cli.Int("vad", 3, "Mic VAD aggressiveness 0-3")
	minFrames := cli.Int("min-frames", 10, "Minimum frames per mic speech segment")
	energy := cli.Float64("energy", 0.001, "Loopback energy gate threshold")
	chunk := cli.Duration("chunk", 5*time.Second, "Loopback chunk duration")
	warnDepth := cli.Int("warn-depth", 32, "Queue depth that triggers a backpressure warning")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if *proxyAddr != "" {
		httpClient, err := proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
		log.Debug("Loaded proxy")
	}
	client := openai.NewClient(opts...)

	store, err := memory.NewStore(
		memory.NewOpenAIEmbedder(client, *embedModel),
		memory.NewOpenAIGenerator(client, *chatModel),
		memory.Options{Window: *window, Path: *dbPath},
	)
	if err != nil {
		log.Error("Failed to init memory store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	log.Debug("Loaded memory store")

	whisper, err := stt.NewTranscriber(*modelPath, stt.Options{Language: "auto"})
	if err != nil {
		log.Error("Failed to init whisper", "err", err)
		os.Exit(1)
	}
	defer whisper.Close()

	log.Debug("Loaded whisper")

	if err := audio.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer audio.Terminate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := pipeline.NewQueue(*warnDepth)
	triggers := defaultTriggers()

	disp := pipeline.NewDispatcher(queue, whisper, store, store, triggers)
	if *cuePath != "" {
		disp.Cue = func() {
			if err := notify.Cue(*cuePath); err != nil {
				log.Warn("cue playback failed", "err", err)
			}
		}
	}

	var wg sync.WaitGroup

	if mic, err := audio.OpenMic(); err != nil {
		log.Error("Mic unavailable, active source disabled", "err", err)
	} else {
		defer mic.Close()
		seg := audio.NewSegmenter(audio.NewRMSClassifier(*aggressiveness), audio.SourceUser, *minFrames)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pipeline.RunMicWorker(ctx, mic, seg, queue)
		}()
	}

	if loop, err := audio.OpenLoopback(*chunk); err != nil {
		log.Error("Loopback unavailable, passive source disabled", "err", err)
	} else {
		defer loop.Close()
		log.Info("Loopback capture", "device", loop.Device())
		gate := audio.EnergyGate{Threshold: *energy}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pipeline.RunLoopbackWorker(ctx, loop, gate, queue)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()

	if err := ipc.StartServer(ctx, *socketPath, controlHandler(ctx, store, queue, whisper)); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	srv := server.New(store, queue, os.Getenv("OMNI_API_KEY"))
	go func() {
		log.Info("HTTP surface listening", "addr", *addr)
		if err := srv.Run(ctx, *addr); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	log.Info("Boot up - successful")

	<-ctx.Done()
	log.Info("Shutting down")
	queue.Close()
	wg.Wait()
}

func defaultTriggers() *trigger.Table {
	return trigger.NewTable(trigger.Trigger{
		Phrase: "fix my wifi",
		Action: func(ctx context.Context) {
			log.Info("Triggering wifi fix sequence")

			events, err := toolbox.ReadErrorLogs(ctx, 10)
			if err != nil {
				log.Error("Failed to read error logs", "err", err)
			} else {
				log.Info("Analyzed logs", "events", len(events))
			}

			res, err := toolbox.Execute(ctx, "resolvectl flush-caches")
			if err != nil {
				log.Error("Remediation failed", "err", err)
				return
			}
			log.Info("Remediation ran", "exit", res.ExitCode, "stdout", res.Stdout)
		},
	})
}

func controlHandler(ctx context.Context, store *memory.Store, queue *pipeline.Queue, whisper *stt.Transcriber) ipc.Handler {
	return func(req ipc.Request) ipc.Response {
		rctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		switch req.Cmd {
		case "status":
			stream, longTerm := store.Counts()
			body, _ := json.Marshal(map[string]any{
				"queue_depth":       queue.Depth(),
				"queue_age_seconds": queue.OldestAge().Seconds(),
				"stream_records":    stream,
				"long_term_records": longTerm,
			})
			return ipc.Body(string(body))

		case "ask":
			if req.Arg == "" {
				return ipc.Errorf("ask needs a question")
			}
			answer, err := store.Query(rctx, req.Arg)
			if err != nil {
				return ipc.Errorf("query failed: %v", err)
			}
			return ipc.Body(answer)

		case "ingest":
			pcm, err := audiofile.ToPCM16k(req.Arg)
			if err != nil {
				return ipc.Errorf("decode %s: %v", req.Arg, err)
			}
			text, err := whisper.Transcribe(rctx, pcm)
			if err != nil {
				return ipc.Errorf("transcribe: %v", err)
			}
			if err := store.Add(rctx, text, memory.SourceUserFact, map[string]any{"path": req.Arg}); err != nil {
				return ipc.Errorf("store: %v", err)
			}
			return ipc.Body(fmt.Sprintf("stored: %s", text))

		default:
			return ipc.Errorf("unknown command %q", req.Cmd)
		}
	}
}
