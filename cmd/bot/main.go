package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tilecraft.ai/internal/protocol"
)

// bot places random blocks and prints the effects it sees.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		interval = flag.Duration("interval", 500*time.Millisecond, "delay between placements")
		count    = flag.Int("count", 0, "stop after this many placements (0 = run until interrupted)")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Subscribe:       true,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatal("read WELCOME", zap.Error(err), zap.String("type", welcome.Type))
	}
	logger.Info("WELCOME",
		zap.String("session_id", welcome.SessionID),
		zap.String("grid_id", welcome.GridID),
		zap.Int("width", welcome.Grid.Width),
		zap.Int("height", welcome.Grid.Height),
		zap.Strings("palette", welcome.Catalogs.Palette),
	)
	if len(welcome.Catalogs.Palette) == 0 {
		logger.Fatal("empty palette")
	}

	go readLoop(conn, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	rng := rand.New(rand.NewSource(*seed))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for n := 0; *count == 0 || n < *count; n++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// A small palette slice keeps matches frequent.
		palette := welcome.Catalogs.Palette
		if len(palette) > 3 {
			palette = palette[:3]
		}
		msg := protocol.PlaceMsg{
			Type:            protocol.TypePlace,
			ProtocolVersion: protocol.Version,
			ReqID:           fmt.Sprintf("%s-%d", *name, n),
			Pos:             [2]int{rng.Intn(welcome.Grid.Width), rng.Intn(welcome.Grid.Height)},
			BlockType:       palette[rng.Intn(len(palette))],
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Error("send PLACE", zap.Error(err))
			return
		}
	}
}

func readLoop(conn *websocket.Conn, logger *zap.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if !a.OK {
				logger.Debug("rejected", zap.String("req_id", a.ReqID), zap.String("code", a.Code))
			} else if a.Steps > 0 {
				logger.Info("chain", zap.String("req_id", a.ReqID), zap.Int("steps", a.Steps))
			}
		case protocol.TypeEffect:
			var e protocol.EffectMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			if e.Reward != nil {
				logger.Info("reward",
					zap.Uint64("seq", e.Seq),
					zap.Int("step", e.Step),
					zap.String("resource", e.Reward.Resource),
					zap.String("amount", e.Reward.Amount),
				)
			}
		}
	}
}
