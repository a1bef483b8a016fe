package wire

import (
	"time"

	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
)

// Error is the payload of an error message.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Pose is a device pose: a world-space position and a unit quaternion
// orientation.
type Pose struct {
	PX float64 `json:"px"`
	PY float64 `json:"py"`
	PZ float64 `json:"pz"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
	RW float64 `json:"rw"`
}

// JoinRequest asks to join the session with the given id. An empty id asks
// for a new session.
type JoinRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// JoinResponse confirms a join. It is also broadcast to the other session
// participants when someone joins, without a request id.
type JoinResponse struct {
	SessionID      string   `json:"session_id"`
	ParticipantID  uint32   `json:"participant_id"`
	ParticipantIDs []uint32 `json:"participant_ids,omitempty"`
	VoxelSize      float64  `json:"voxel_size"`
	Algorithm      string   `json:"algorithm"`
}

// Left tells the remaining session participants that someone left.
type Left struct {
	ParticipantID uint32 `json:"participant_id"`
}

// Pong answers a ping. The server also sends unsolicited pongs on a timer
// so clients can sync their clocks.
type Pong struct {
	ServerTime time.Time `json:"server_time"`
}

// TraceRequest casts a ray through the session grid.
type TraceRequest struct {
	Algorithm string       `json:"algorithm,omitempty"`
	Start     voxel.Point3 `json:"start"`
	End       voxel.Point3 `json:"end"`
	VoxelSize float64      `json:"voxel_size,omitempty"`
}

// TraceResult lists the voxels a trace visited, in visit order.
type TraceResult struct {
	Algorithm  string           `json:"algorithm"`
	Steps      int              `json:"steps"`
	Voxels     []voxel.Index    `json:"voxels"`
	CrossCheck *TraceCrossCheck `json:"cross_check,omitempty"`
}

// TraceCrossCheck reports whether the sibling integer variant visited the
// same voxel set.
type TraceCrossCheck struct {
	Algorithm string `json:"algorithm"`
	Agrees    bool   `json:"agrees"`
}

// ScanSubmit feeds a depth scan into the session map. Points are in the
// device frame and are placed in the world by the pose.
type ScanSubmit struct {
	Pose   Pose           `json:"pose"`
	Score  float64        `json:"score"`
	Points []voxel.Point3 `json:"points"`
}

// ScanAck reports what a scan integration did.
type ScanAck struct {
	Rays         int `json:"rays"`
	Clamped      int `json:"clamped,omitempty"`
	Skipped      int `json:"skipped,omitempty"`
	ChangedCells int `json:"changed_cells"`
	Divergent    int `json:"divergent,omitempty"`
}

// MapQuery asks for the known cells inside an inclusive voxel-index box.
type MapQuery struct {
	Min   voxel.Index `json:"min"`
	Max   voxel.Index `json:"max"`
	Limit int         `json:"limit,omitempty"`
}

// MapCells answers a map query.
type MapCells struct {
	Cells     []occupancy.CellUpdate `json:"cells"`
	Truncated bool                   `json:"truncated,omitempty"`
}

// MapStatsResult answers a map stats request.
type MapStatsResult struct {
	SessionID string          `json:"session_id"`
	VoxelSize float64         `json:"voxel_size"`
	Stats     occupancy.Stats `json:"stats"`
}

// MapDelta carries the cells a scan changed to the other session
// participants.
type MapDelta struct {
	ParticipantID uint32                 `json:"participant_id"`
	Cells         []occupancy.CellUpdate `json:"cells"`
}
