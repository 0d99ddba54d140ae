package wire

import (
	"encoding/json"

	"dagsched/internal/dserrors"
)

// Kind tags the payload carried by an envelope so the receiver can dispatch
// without guessing from shape.
type Kind string

const (
	KindHandshake      Kind = "Handshake"
	KindUpdateGraph    Kind = "UpdateGraph"
	KindReleaseKeys    Kind = "ReleaseKeys"
	KindCloseClient    Kind = "CloseClient"
	KindKeyFinished    Kind = "KeyFinished"
	KindKeyErred       Kind = "KeyErred"
	KindComputeTask    Kind = "ComputeTask"
	KindDeleteData     Kind = "DeleteData"
	KindStealRequest   Kind = "StealRequest"
	KindTaskFinished   Kind = "TaskFinished"
	KindTaskErred      Kind = "TaskErred"
	KindDataDownloaded Kind = "DataDownloaded"
	KindDataRemoved    Kind = "DataRemoved"
	KindStealResponse  Kind = "StealResponse"
	KindHeartbeat      Kind = "Heartbeat"
	KindFetchRequest   Kind = "FetchRequest"
	KindDataResponse   Kind = "DataResponse"
)

// envelope is the on-wire shape of every frame: a discriminant plus a raw
// payload decoded once the discriminant is known.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals kind and payload into one length-delimited frame body.
func Encode(kind Kind, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, dserrors.Wrap(err, "marshaling payload")
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

// Decode splits a frame body into its kind and raw payload; call
// DecodePayload to unmarshal the payload into a concrete type once the kind
// is known.
func Decode(body []byte) (Kind, json.RawMessage, error) {
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return "", nil, dserrors.Protocolf("decoding envelope: %v", err)
	}
	if e.Kind == "" {
		return "", nil, dserrors.Protocolf("envelope missing kind")
	}
	return e.Kind, e.Payload, nil
}

// DecodePayload unmarshals raw into dst, classifying any failure as a
// protocol error.
func DecodePayload(raw json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return dserrors.Protocolf("decoding payload: %v", err)
	}
	return nil
}

// PeerKind identifies what a connection's remote end is, advertised by the
// first frame on every connection per the spec's handshake requirement.
type PeerKind string

const (
	PeerClient PeerKind = "client"
	PeerWorker PeerKind = "worker"
)

// Handshake is always the first frame on a connection. ProtocolVersion is a
// semver string; peers compare it with a constraint instead of requiring an
// exact match, so a worker ahead by a patch release is still accepted.
type Handshake struct {
	PeerKind        PeerKind `json:"peer_kind"`
	ProtocolVersion string   `json:"protocol_version"`
	ConnectionID    string   `json:"connection_id"`
	// ListenAddress is set by workers only, so the gateway can record where
	// to route peer fetches.
	ListenAddress string `json:"listen_address,omitempty"`
	NCPUs         int    `json:"ncpus,omitempty"`
}

// DependencyRef describes one task dependency as advertised to a worker:
// its id, size in bytes, the workers currently known to hold it, and each
// candidate's listen address so the receiving worker's fetcher can dial a
// peer it has no other way of resolving.
type DependencyRef struct {
	ID               int64            `json:"id"`
	Size             int64            `json:"size"`
	CandidateWorkers []int64          `json:"candidate_workers"`
	CandidateAddrs   map[int64]string `json:"candidate_addrs,omitempty"`
}

// TaskSpec is one entry of an UpdateGraph submission.
type TaskSpec struct {
	ID             int64   `json:"id"`
	Dependencies   []int64 `json:"dependencies"`
	ClientPriority int64   `json:"client_priority"`
	ExpectedSize   *int64  `json:"expected_size,omitempty"`
}

// UpdateGraph is sent client → scheduler to submit new tasks.
type UpdateGraph struct {
	Tasks []TaskSpec `json:"tasks"`
}

// ReleaseKeys is sent client → scheduler to release interest in task
// outputs.
type ReleaseKeys struct {
	IDs []int64 `json:"ids"`
}

// CloseClient is sent client → scheduler to end the session cleanly.
type CloseClient struct{}

// KeyFinished is sent scheduler → client when a task output is ready.
type KeyFinished struct {
	ID int64 `json:"id"`
}

// KeyErred is sent scheduler → client when a task failed.
type KeyErred struct {
	ID  int64  `json:"id"`
	Err string `json:"err"`
}

// ComputeTask is sent scheduler → worker to assign a task.
type ComputeTask struct {
	ID           int64            `json:"id"`
	Dependencies []DependencyRef  `json:"dependencies"`
	Priority     [2]int64         `json:"priority"` // [user_priority, internal_priority]
}

// DeleteData is sent scheduler → worker to evict local data objects.
type DeleteData struct {
	IDs []int64 `json:"ids"`
}

// StealRequest is sent scheduler → worker to propose migrating tasks away.
type StealRequest struct {
	IDs []int64 `json:"ids"`
}

// TaskFinished is sent worker → scheduler on successful task completion.
type TaskFinished struct {
	ID   int64 `json:"id"`
	Size int64 `json:"size"`
}

// TaskErred is sent worker → scheduler when a task's subworker failed.
type TaskErred struct {
	ID  int64  `json:"id"`
	Err string `json:"err"`
}

// DataDownloaded is sent worker → scheduler once a fetch lands a dependency
// locally.
type DataDownloaded struct {
	ID int64 `json:"id"`
}

// DataRemoved is sent worker → scheduler once a local data object is
// evicted, whether by scheduler-initiated DeleteData or local eviction.
type DataRemoved struct {
	ID int64 `json:"id"`
}

// StealOutcome is the result a worker returns for a StealRequest id.
type StealOutcome string

const (
	StealOk      StealOutcome = "Ok"
	StealRunning StealOutcome = "Running"
	StealNotHere StealOutcome = "NotHere"
)

// StealResponse is sent worker → scheduler in answer to a StealRequest.
type StealResponse struct {
	ID      int64        `json:"id"`
	Outcome StealOutcome `json:"outcome"`
}

// Heartbeat is sent worker → scheduler to keep the connection live.
type Heartbeat struct{}

// FetchRequest is sent worker → worker (peer) to request a data object.
type FetchRequest struct {
	TaskID int64 `json:"task_id"`
}

// DataResponseStatus discriminates the three outcomes a fetch can receive.
type DataResponseStatus string

const (
	DataResponseData         DataResponseStatus = "Data"
	DataResponseNotAvailable DataResponseStatus = "NotAvailable"
	DataResponseUploaded     DataResponseStatus = "DataUploaded"
)

// DataResponse is the header frame a peer sends in reply to FetchRequest.
// When Status is DataResponseData, exactly one more frame follows carrying
// the raw bytes.
type DataResponse struct {
	Status     DataResponseStatus `json:"status"`
	Size       int64              `json:"size,omitempty"`
	Serializer string             `json:"serializer,omitempty"`
}
