package wire

import (
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"dagsched/internal/dserrors"
)

// ProtocolVersion is this build's wire protocol version. Bumped on any
// breaking change to the message kinds in messages.go.
const ProtocolVersion = "1.0.0"

// CompatibleConstraint accepts any peer within the same major version,
// matching the spec's requirement that a worker a patch release ahead of
// the scheduler is still accepted.
const CompatibleConstraint = "^1.0.0"

// NewConnectionID generates a correlation id for log lines spanning a
// connection's lifetime (gateway accept, fetch retries, steal replies).
func NewConnectionID() string {
	return uuid.NewString()
}

// SendHandshake writes this process's handshake frame as the first frame
// on w.
func SendHandshake(w io.Writer, h Handshake) error {
	if h.ProtocolVersion == "" {
		h.ProtocolVersion = ProtocolVersion
	}
	if h.ConnectionID == "" {
		h.ConnectionID = NewConnectionID()
	}
	body, err := Encode(KindHandshake, h)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadHandshake reads and validates the first frame on r, rejecting peers
// whose protocol version falls outside CompatibleConstraint.
func ReadHandshake(r io.Reader) (Handshake, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Handshake{}, err
	}
	kind, raw, err := Decode(body)
	if err != nil {
		return Handshake{}, err
	}
	if kind != KindHandshake {
		return Handshake{}, dserrors.Protocolf("expected handshake frame, got %s", kind)
	}
	var h Handshake
	if err := DecodePayload(raw, &h); err != nil {
		return Handshake{}, err
	}
	if err := checkVersion(h.ProtocolVersion); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return dserrors.Protocolf("malformed protocol version %q: %v", version, err)
	}
	c, err := semver.NewConstraint(CompatibleConstraint)
	if err != nil {
		// CompatibleConstraint is a package constant; a parse failure here
		// is a programming error, not a remote peer's fault.
		return dserrors.Invariantf("invalid compatibility constraint %q: %v", CompatibleConstraint, err)
	}
	if !c.Check(v) {
		return dserrors.Protocolf("protocol version %s incompatible with %s", version, CompatibleConstraint)
	}
	return nil
}
