package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Depth       int      `json:"depth"`
	RegionSide  int      `json:"region_side"`
	ChunkLevel  int      `json:"chunk_level"`
	ForkLevel   int      `json:"fork_level"`
	MaxChunkLOD int      `json:"max_chunk_lod"`
	Layers      []string `json:"layers"`
}

// GET_VOXEL (client -> server)
type GetVoxelMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Pos             [3]int `json:"pos"`
}

// VOXEL (server -> client). Found is false for empty space; Layer is the
// layer that won the priority overlay.
type VoxelMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Pos             [3]int `json:"pos"`
	Found           bool   `json:"found"`
	Payload         uint32 `json:"payload"`
	Layer           string `json:"layer,omitempty"`
}

// SET_VOXEL (client -> server). Payload 0 erases.
type SetVoxelMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Layer           string `json:"layer"`
	Pos             [3]int `json:"pos"`
	Payload         uint32 `json:"payload"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

// LOAD_CHUNK (client -> server). An empty Layer overlays all layers.
type LoadChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Region          [3]int `json:"region"`
	Chunk           [3]int `json:"chunk"`
	LOD             int    `json:"lod"`
	Layer           string `json:"layer,omitempty"`
}

// CHUNK (server -> client). VoxelsRLE is the dense grid, x fastest then y
// then z, run-length encoded.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Region          [3]int `json:"region"`
	Chunk           [3]int `json:"chunk"`
	LOD             int    `json:"lod"`
	Side            int    `json:"side"`
	Count           int    `json:"count"`
	VoxelsRLE       string `json:"voxels_rle"`
}

// STATS (client -> server)
type StatsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

// STATS_RESP (server -> client)
type StatsRespMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	Regions         int          `json:"regions"`
	Layers          []LayerStats `json:"layers"`
}

type LayerStats struct {
	Layer   string `json:"layer"`
	Nodes   int    `json:"nodes"`
	Forks   int    `json:"forks"`
	Bricks  int    `json:"bricks"`
	Entries int    `json:"entries"`
	Voxels  int    `json:"voxels"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
