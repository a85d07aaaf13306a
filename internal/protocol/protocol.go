package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello     = "HELLO"
	TypeWelcome   = "WELCOME"
	TypeGetVoxel  = "GET_VOXEL"
	TypeVoxel     = "VOXEL"
	TypeSetVoxel  = "SET_VOXEL"
	TypeAck       = "ACK"
	TypeLoadChunk = "LOAD_CHUNK"
	TypeChunk     = "CHUNK"
	TypeStats     = "STATS"
	TypeStatsResp = "STATS_RESP"
	TypeError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
