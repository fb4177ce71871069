/******************************************************************************
 *
 *  Description :
 *    Push notification preparation server. Consumes message batches from
 *    the broker, resolves recipients, shapes and encrypts per-platform
 *    payloads and dispatches them to the delivery gateways.
 *
 *****************************************************************************/
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinode/jsonco"

	"github.com/ferrychat/ferry/server/blob"
	"github.com/ferrychat/ferry/server/concurrency"
	"github.com/ferrychat/ferry/server/e2e"
	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	"github.com/ferrychat/ferry/server/push/pipeline"
	"github.com/ferrychat/ferry/server/queue"
	"github.com/ferrychat/ferry/server/unread"

	// Delivery handlers register themselves.
	_ "github.com/ferrychat/ferry/server/push/fcmgw"
	_ "github.com/ferrychat/ferry/server/push/stdout"

	t "github.com/ferrychat/ferry/server/store/types"
)

type configType struct {
	// HTTP address for metrics and health.
	Listen string `json:"listen"`
	// Number of dispatch workers.
	Workers int `json:"workers"`
	// Base64-encoded master secret for payload encryption sessions.
	MasterSecret string `json:"master_secret"`

	Queue  queue.Config    `json:"queue"`
	Unread *unread.Config  `json:"unread_config,omitempty"`
	Blob   *blob.Config    `json:"blob_config,omitempty"`
	Push   json.RawMessage `json:"push"`
}

// batchFetcher resolves message lookups against the request's own
// message set; the broker includes referenced targets in the batch.
type batchFetcher map[string]*t.Message

func (bf batchFetcher) FetchMessageByID(_ context.Context, id string) (*t.Message, error) {
	return bf[id], nil
}

func newBatchFetcher(req *queue.PrepareRequest) batchFetcher {
	bf := make(batchFetcher, len(req.Messages)+len(req.Targets))
	for _, msg := range req.Messages {
		bf[msg.ID] = msg
	}
	for _, msg := range req.Targets {
		bf[msg.ID] = msg
	}
	return bf
}

func main() {
	configfile := flag.String("config", "./ferry.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on.")
	flag.Parse()

	logs.Init()
	logs.Info.Printf("Server pid=%d, using config from '%s'", os.Getpid(), *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Error.Fatal("Failed to read config file: ", err)
	} else {
		jr := jsonco.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			logs.Error.Fatal("Failed to parse config file: ", err)
		}
		file.Close()
	}
	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.Workers <= 0 {
		config.Workers = 16
	}

	master, err := base64.StdEncoding.DecodeString(config.MasterSecret)
	if err != nil {
		logs.Error.Fatal("Malformed master secret: ", err)
	}
	encryptor, err := e2e.NewEncryptor(master)
	if err != nil {
		logs.Error.Fatal("Failed to initialize encryptor: ", err)
	}

	enabled, err := push.Init(config.Push)
	if err != nil {
		logs.Error.Fatal("Failed to initialize push handlers: ", err)
	}
	logs.Info.Println("Push handlers enabled:", enabled)
	defer push.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := pipeline.Deps{Encrypt: encryptor}

	if config.Blob != nil {
		store, err := blob.NewStore(*config.Blob)
		if err != nil {
			logs.Error.Fatal("Failed to connect to blob storage: ", err)
		}
		deps.Blob = store
	}
	if config.Unread != nil {
		counter, err := unread.NewCounter(ctx, *config.Unread)
		if err != nil {
			logs.Error.Fatal("Failed to connect to unread counter: ", err)
		}
		defer counter.Close()
		deps.Unread = counter
	}

	intake, err := queue.NewIntake(config.Queue)
	if err != nil {
		logs.Error.Fatal("Failed to connect to broker: ", err)
	}
	defer intake.Close()

	if config.Listen != "" {
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/health", func(wrt http.ResponseWriter, _ *http.Request) {
			wrt.WriteHeader(http.StatusNoContent)
		})
		go func() {
			logs.Info.Printf("Listening on [%s]", config.Listen)
			if err := http.ListenAndServe(config.Listen, nil); err != nil {
				logs.Error.Println("HTTP server failed:", err)
			}
		}()
	}

	// Dispatch runs off the consumer goroutine so a slow gateway never
	// delays the next batch's ack.
	dispatchers := concurrency.NewGoRoutinePool(config.Workers)
	defer dispatchers.Stop()

	err = intake.Consume(ctx, func(ctx context.Context, req *queue.PrepareRequest) error {
		// Downstream stages treat a missing thread snapshot as a caller
		// contract violation; drop bad requests here instead.
		for _, msg := range req.Messages {
			if req.Threads[msg.ThreadID] == nil {
				logs.Warning.Println("main: dropping batch with unknown thread", msg.ThreadID)
				return nil
			}
		}

		batchDeps := deps
		batchDeps.Fetcher = newBatchFetcher(req)
		batchDeps.Sender = req.Sender

		names := req.Names
		batch := &pipeline.Batch{
			Messages: req.Messages,
			Threads:  req.Threads,
			Devices:  req.Devices,
			UserNames: func(userID string) string {
				return names[userID]
			},
		}
		pass, err := pipeline.PrepareNotifications(ctx, batchDeps, batch)
		if err != nil {
			return err
		}
		dispatchers.Schedule(func() {
			pipeline.DispatchPass(pass)
		})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logs.Error.Fatal("Consumer terminated: ", err)
	}
	logs.Info.Println("Server stopped")
}
