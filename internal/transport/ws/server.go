package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/grid"
)

const requestTimeout = 5 * time.Second

type Server struct {
	eng *engine.Engine
	log *zap.Logger

	tuningDigest string
	upgrader     websocket.Upgrader
}

func NewServer(eng *engine.Engine, logger *zap.Logger, tuningDigest string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		eng:          eng,
		log:          logger,
		tuningDigest: tuningDigest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	id  string
	out chan []byte
	log *zap.Logger
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		if hello.Subscribe {
			sub := s.eng.Subscribe(0)
			defer s.eng.Unsubscribe(sub)
			go s.forwardEffects(ctx, sess, sub)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.dispatch(ctx, msg)
			if ack == nil {
				continue
			}
			b, _ := json.Marshal(ack)
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}
		sess.log.Debug("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, hello, false
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}

	sess := &session{id: uuid.NewString(), out: make(chan []byte, 256)}
	sess.log = s.log.With(zap.String("session_id", sess.id), zap.String("client", name))

	cfg := s.eng.Tuning()
	cats := s.eng.Catalogs()
	palette := make([]string, 0, len(cats.Blocks.Palette))
	for _, t := range cats.Blocks.Palette {
		palette = append(palette, string(t))
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		GridID:          s.eng.ID(),
		Grid: protocol.GridParams{
			Width:    s.eng.Width(),
			Height:   s.eng.Height(),
			FloodCap: cfg.Grid.FloodCap,
			MaxChain: cfg.Chain.MaxDepth,
		},
		Catalogs: protocol.CatalogDigests{
			BlocksDigest: cats.Blocks.DefsDigest,
			Palette:      palette,
			TuningDigest: s.tuningDigest,
		},
		LastSeq: s.eng.LastSeq(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil, hello, false
	}
	sess.log.Debug("session started", zap.Bool("subscribe", hello.Subscribe))
	return sess, hello, true
}

// forwardEffects relays the effect stream. A full session buffer drops effects
// for that session only.
func (s *Server) forwardEffects(ctx context.Context, sess *session, sub *engine.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			b, err := json.Marshal(EffectMessage(e))
			if err != nil {
				continue
			}
			select {
			case sess.out <- b:
			default:
				sess.log.Debug("effect dropped", zap.Uint64("seq", e.Seq))
			}
		}
	}
}

func (s *Server) dispatch(parent context.Context, msg []byte) *protocol.AckMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nack("", protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != protocol.Version {
		return nack("", protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	ctx, cancel := context.WithTimeout(parent, requestTimeout)
	defer cancel()

	switch base.Type {
	case protocol.TypePlace:
		var m protocol.PlaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nack("", protocol.ErrProtoBadRequest, err.Error())
		}
		res, err := s.eng.Place(ctx, pos(m.Pos), grid.BlockType(m.BlockType))
		return result(m.ReqID, res, err)
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nack("", protocol.ErrProtoBadRequest, err.Error())
		}
		res, err := s.eng.Move(ctx, grid.BlockID(m.BlockID), pos(m.To))
		return result(m.ReqID, res, err)
	case protocol.TypeRemove:
		var m protocol.RemoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nack("", protocol.ErrProtoBadRequest, err.Error())
		}
		var (
			res engine.Result
			err error
		)
		switch {
		case m.BlockID != 0:
			res, err = s.eng.Remove(ctx, grid.BlockID(m.BlockID))
		case m.Pos != nil:
			res, err = s.eng.RemoveAt(ctx, pos(*m.Pos))
		default:
			return nack(m.ReqID, protocol.ErrBadRequest, "block_id or pos required")
		}
		return result(m.ReqID, res, err)
	case protocol.TypeQuery:
		var m protocol.QueryMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nack("", protocol.ErrProtoBadRequest, err.Error())
		}
		return s.query(m)
	default:
		return nack("", protocol.ErrProtoBadRequest, "unknown message type "+base.Type)
	}
}

func (s *Server) query(m protocol.QueryMsg) *protocol.AckMsg {
	ack := &protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, ReqID: m.ReqID, OK: true}
	switch m.Mode {
	case protocol.QueryAt:
		if b, ok := s.eng.BlockAt(pos(m.Pos)); ok {
			ack.Blocks = []protocol.BlockInfo{blockInfo(b)}
		}
	case protocol.QueryAdjacent:
		for _, b := range s.eng.Adjacent(pos(m.Pos)) {
			ack.Blocks = append(ack.Blocks, blockInfo(b))
		}
	case protocol.QueryAll:
		for _, b := range s.eng.Blocks() {
			ack.Blocks = append(ack.Blocks, blockInfo(b))
		}
		ack.Digest = s.eng.Digest()
	default:
		return nack(m.ReqID, protocol.ErrBadRequest, "unknown query mode "+m.Mode)
	}
	return ack
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
