package ledger

import (
	"strings"

	"github.com/Clark-Hu/stars/internal/domain"
)

// Ambient carries request-derived defaults, e.g. values read from the configured
// device and source headers and the remote address.
type Ambient struct {
	Device string
	Source string
	IP     string
}

// Input describes one rating call. Actor may be nil for anonymous devices.
type Input struct {
	Actor   domain.Rater
	Device  string
	Rate    int
	IP      string
	Source  string
	Ambient Ambient
}

// ByActor builds an Input keyed by actor.
func ByActor(actor domain.Rater) Input {
	return Input{Actor: actor}
}

// ByDevice builds an Input keyed by an anonymous device fingerprint.
func ByDevice(device string) Input {
	return Input{Device: device}
}

// Resolver turns an Input into the canonical identity and metadata.
type Resolver struct {
	DefaultSource string
}

// Resolve applies ambient defaults to blank fields and picks the identity key.
// An explicit actor always wins over the device fingerprint.
func (r Resolver) Resolve(in Input) (domain.Identity, domain.Metadata, error) {
	meta := domain.Metadata{
		IP:     firstNonBlank(in.IP, in.Ambient.IP),
		Device: firstNonBlank(in.Device, in.Ambient.Device),
		Source: firstNonBlank(in.Source, in.Ambient.Source, r.DefaultSource),
	}

	var id domain.Identity
	if in.Actor != nil {
		if ref := in.Actor.RaterRef(); !ref.IsZero() {
			id.Actor = &ref
		}
	}
	if id.Actor == nil {
		id.Device = meta.Device
	}
	if id.IsZero() {
		return domain.Identity{}, domain.Metadata{}, InvalidActorError{}
	}
	return id, meta, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
