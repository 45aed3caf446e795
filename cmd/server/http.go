package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tilecraft.ai/internal/progression"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/transport/ws"
)

type httpDeps struct {
	eng          *engine.Engine
	prog         *progression.State
	log          *zap.Logger
	adminHTTP    bool
	pprofHTTP    bool
	onSnapshot   func(seq uint64)
	tuningDigest string
}

type gridDump struct {
	GridID  string               `json:"grid_id"`
	Width   int                  `json:"width"`
	Height  int                  `json:"height"`
	LastSeq uint64               `json:"last_seq"`
	Digest  string               `json:"digest"`
	Blocks  []protocol.BlockInfo `json:"blocks"`
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := d.eng.Corrupted(); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/ws", ws.NewServer(d.eng, d.log.Named("ws"), d.tuningDigest).Handler())
	mux.HandleFunc("/v1/grid", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := gridDump{
			GridID:  d.eng.ID(),
			Width:   d.eng.Width(),
			Height:  d.eng.Height(),
			LastSeq: d.eng.LastSeq(),
			Digest:  d.eng.Digest(),
			Blocks:  []protocol.BlockInfo{},
		}
		for _, b := range d.eng.Blocks() {
			resp.Blocks = append(resp.Blocks, protocol.BlockInfo{ID: uint64(b.ID), Type: string(b.Type), Tier: b.Tier, Pos: b.Pos.ToArray()})
		}
		writeJSON(rw, http.StatusOK, resp)
	})

	if d.adminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				GridID      string             `json:"grid_id"`
				LastSeq     uint64             `json:"last_seq"`
				Blocks      int                `json:"blocks"`
				Digest      string             `json:"digest"`
				Progression progression.Export `json:"progression"`
			}{
				GridID:      d.eng.ID(),
				LastSeq:     d.eng.LastSeq(),
				Blocks:      len(d.eng.Blocks()),
				Digest:      d.eng.Digest(),
				Progression: d.prog.Export(),
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			seq, err := d.eng.RequestSnapshot(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "seq": seq, "error": err.Error()})
				return
			}
			if d.onSnapshot != nil {
				d.onSnapshot(seq)
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "seq": seq})
		}))
		mux.HandleFunc("/admin/v1/unlock", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodDelete {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			typ := grid.BlockType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
			tier, err := strconv.Atoi(r.URL.Query().Get("tier"))
			if err != nil || tier < 2 || d.eng.Catalogs().Blocks.Defs[typ].ID == "" {
				writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "type and tier>=2 required"})
				return
			}
			if r.Method == http.MethodDelete {
				d.prog.Lock(typ, tier)
			} else {
				d.prog.Unlock(typ, tier)
			}
			d.log.Info("unlock changed", zap.String("type", string(typ)), zap.Int("tier", tier), zap.String("method", r.Method))
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "type": typ, "tier": tier, "unlocked": d.prog.IsTierUnlocked(typ, tier)})
		}))
	}
	if d.pprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
