package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Subscribe asks for the EFFECT stream.
	Subscribe bool `json:"subscribe,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	GridID          string         `json:"grid_id"`
	Grid            GridParams     `json:"grid"`
	Catalogs        CatalogDigests `json:"catalogs"`
	LastSeq         uint64         `json:"last_seq"`
}

type GridParams struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	FloodCap int `json:"flood_cap"`
	MaxChain int `json:"max_chain_depth"`
}

type CatalogDigests struct {
	BlocksDigest string   `json:"blocks_digest"`
	Palette      []string `json:"palette"`
	TuningDigest string   `json:"tuning_digest,omitempty"`
}

// PLACE (client -> server)
type PlaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Pos             [2]int `json:"pos"`
	BlockType       string `json:"block_type"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	BlockID         uint64 `json:"block_id"`
	To              [2]int `json:"to"`
}

// REMOVE (client -> server). Either block_id or pos.
type RemoveMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	BlockID         uint64  `json:"block_id,omitempty"`
	Pos             *[2]int `json:"pos,omitempty"`
}

const (
	QueryAt       = "at"
	QueryAdjacent = "adjacent"
	QueryAll      = "all"
)

// QUERY (client -> server)
type QueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Mode            string `json:"mode"`
	Pos             [2]int `json:"pos,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id"`
	OK              bool        `json:"ok"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
	BlockID         uint64      `json:"block_id,omitempty"`
	ChainID         string      `json:"chain_id,omitempty"`
	Steps           int         `json:"steps,omitempty"`
	Blocks          []BlockInfo `json:"blocks,omitempty"`
	Digest          string      `json:"digest,omitempty"`
}

type BlockInfo struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
	Tier int    `json:"tier"`
	Pos  [2]int `json:"pos"`
}

// EFFECT (server -> client)
type EffectMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Seq             uint64   `json:"seq"`
	Kind            string   `json:"kind"`
	TimeMs          int64    `json:"time_ms"`
	ChainID         string   `json:"chain_id"`
	Step            int      `json:"step"`
	BlockID         uint64   `json:"block_id,omitempty"`
	BlockType       string   `json:"block_type,omitempty"`
	Tier            int      `json:"tier,omitempty"`
	From            *[2]int  `json:"from,omitempty"`
	To              *[2]int  `json:"to,omitempty"`
	Pattern         string   `json:"pattern,omitempty"`
	Positions       [][2]int `json:"positions,omitempty"`
	BlockIDs        []uint64 `json:"block_ids,omitempty"`
	Reward          *Reward  `json:"reward,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type Reward struct {
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
}
