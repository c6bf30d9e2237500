package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/doc-collab-engine/internal/ws"
)

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket address to target")
	shareToken := flag.String("share-token", "", "share token granting editor access to the target document")
	clients := flag.Int("clients", 8, "number of concurrent websocket clients")
	messages := flag.Int("messages", 20, "number of content updates to send")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between updates")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("tool", "loadtest").Logger()

	if *shareToken == "" {
		logger.Fatal().Msg("a share token is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	latencyCh := make(chan latencySample, *clients**messages)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			clientID := fmt.Sprintf("client-%d", id)

			conn, _, err := dialer.DialContext(ctx, *addr, nil)
			if err != nil {
				logger.Error().Err(err).Str("client", clientID).Msg("dial failed")
				return
			}
			defer conn.Close()

			join := ws.Inbound{
				Type:        ws.TypeJoin,
				ShareToken:  *shareToken,
				ClientID:    clientID,
				DisplayName: clientID,
			}
			if err := conn.WriteJSON(join); err != nil {
				logger.Error().Err(err).Str("client", clientID).Msg("join failed")
				return
			}

			done := make(chan struct{})
			go readerLoop(ctx, conn, clientID, latencyCh, done, logger)

			if id == 0 {
				broadcastLoop(ctx, conn, *messages, *interval, logger)
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
		}(i)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(*messages)*(*interval)+15*time.Second)
	defer cancel()
	<-waitCtx.Done()
	stop()

	report(latencyCh, logger)
	os.Exit(0)
}

func broadcastLoop(ctx context.Context, conn *websocket.Conn, messages int, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < messages; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update := ws.Inbound{
				Type:    ws.TypeContentUpdate,
				Content: time.Now().UTC().Format(time.RFC3339Nano),
			}
			if err := conn.WriteJSON(update); err != nil {
				logger.Error().Err(err).Msg("failed to send content update")
				return
			}
		}
	}
}

func readerLoop(ctx context.Context, conn *websocket.Conn, clientID string, out chan<- latencySample, done chan<- struct{}, logger zerolog.Logger) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ws.ContentUpdateFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Type != ws.TypeContentUpdate || string(frame.From) == clientID {
			continue
		}
		sentAt, err := time.Parse(time.RFC3339Nano, frame.Content)
		if err != nil {
			continue
		}
		select {
		case out <- latencySample{dur: time.Since(sentAt)}:
		default:
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var durations []time.Duration
	for {
		select {
		case s := <-samples:
			durations = append(durations, s.dur)
			continue
		default:
		}
		break
	}
	if len(durations) == 0 {
		logger.Warn().Msg("no latency samples collected")
		return
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	logger.Info().
		Int("samples", len(durations)).
		Dur("p50", percentile(durations, 50)).
		Dur("p95", percentile(durations, 95)).
		Dur("p99", percentile(durations, 99)).
		Dur("max", durations[len(durations)-1]).
		Msg("broadcast latency")
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
