package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gridID := fs.String("grid", "", "grid id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	chainID := fs.String("chain", "", "chain_id filter (effects)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*gridID) == "" {
			fmt.Fprintln(os.Stderr, "missing -grid or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "grids", *gridID, "index", "grid.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	if err := runQuery(db, q, *limit, strings.TrimSpace(*chainID)); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q string, limit int, chainID string) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,grid_id,path,width,height,blocks,digest,recorded_at FROM snapshots ORDER BY seq DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq        int64  `json:"seq"`
				GridID     string `json:"grid_id"`
				Path       string `json:"path"`
				Width      int    `json:"width"`
				Height     int    `json:"height"`
				Blocks     int    `json:"blocks"`
				Digest     string `json:"digest"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Seq, &r.GridID, &r.Path, &r.Width, &r.Height, &r.Blocks, &r.Digest, &r.RecordedAt); err != nil {
				return err
			}
			printJSON(r)
		}
		return rows.Err()

	case "chains":
		rows, err := db.Query(`SELECT chain_id,first_seq,last_seq,max_step,effects,rewards FROM chains ORDER BY last_seq DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ChainID  string `json:"chain_id"`
				FirstSeq int64  `json:"first_seq"`
				LastSeq  int64  `json:"last_seq"`
				MaxStep  int    `json:"max_step"`
				Effects  int    `json:"effects"`
				Rewards  int    `json:"rewards"`
			}
			if err := rows.Scan(&r.ChainID, &r.FirstSeq, &r.LastSeq, &r.MaxStep, &r.Effects, &r.Rewards); err != nil {
				return err
			}
			printJSON(r)
		}
		return rows.Err()

	case "effects":
		query := `SELECT raw_json FROM effects ORDER BY seq DESC LIMIT ?`
		qargs := []any{limit}
		if chainID != "" {
			query = `SELECT raw_json FROM effects WHERE chain_id=? ORDER BY seq LIMIT ?`
			qargs = []any{chainID, limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			fmt.Println(raw)
		}
		return rows.Err()

	case "rewards":
		rows, err := db.Query(`SELECT resource,amount FROM effects WHERE kind='REWARD' AND resource IS NOT NULL`)
		if err != nil {
			return err
		}
		defer rows.Close()
		totals := map[string]decimal.Decimal{}
		for rows.Next() {
			var res, amt string
			if err := rows.Scan(&res, &amt); err != nil {
				return err
			}
			d, err := decimal.NewFromString(amt)
			if err != nil {
				return err
			}
			totals[res] = totals[res].Add(d)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		keys := make([]string, 0, len(totals))
		for k := range totals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printJSON(map[string]string{"resource": k, "total": totals[k].String()})
		}
		return nil

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, digest, updated string
			if err := rows.Scan(&name, &digest, &updated); err != nil {
				return err
			}
			printJSON(map[string]string{"name": name, "digest": digest, "updated_at": updated})
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query (want snapshots|chains|effects|rewards|catalogs)")
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
