// Package observerproto is the read-only edit feed spoken on the observer
// websocket. It is versioned separately from the client protocol.
package observerproto

const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEdit      = "EDIT"
)

// Client -> Server. First message on the observer connection; may be re-sent
// to change the filter. Min and Max bound world positions, inclusive. An
// empty Layers list means all layers.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Min             [3]int   `json:"min"`
	Max             [3]int   `json:"max"`
	Layers          []string `json:"layers,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	LastSeq         uint64      `json:"last_seq"`
	WorldParams     WorldParams `json:"world_params"`
	Regions         [][3]int    `json:"regions"`
}

type WorldParams struct {
	Depth      int `json:"depth"`
	RegionSide int `json:"region_side"`
	ChunkLevel int `json:"chunk_level"`
}

// Server -> Client. One per applied edit inside the filter. Seq is global, so
// a gap between consecutive EDITs on a connection means either filtered or
// dropped edits; viewers that need exactness reload the chunk.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	At              int64  `json:"at"`
	Region          [3]int `json:"region"`
	Layer           string `json:"layer"`
	Pos             [3]int `json:"pos"`
	Payload         uint32 `json:"payload"`
	Prev            uint32 `json:"prev"`
}
