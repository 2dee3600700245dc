package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ref is a polymorphic reference to an application entity: a kind tag plus a numeric id.
type Ref struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

// Ratable is implemented by anything that can receive ratings.
type Ratable interface {
	RatableRef() Ref
}

// Rater is implemented by anything that can give ratings.
type Rater interface {
	RaterRef() Ref
}

// RatableRef lets a bare Ref act as a target.
func (r Ref) RatableRef() Ref { return r }

// RaterRef lets a bare Ref act as an actor.
func (r Ref) RaterRef() Ref { return r }

// IsZero reports whether the reference carries no kind.
func (r Ref) IsZero() bool { return r.Kind == "" }

func (r Ref) String() string {
	return r.Kind + ":" + strconv.FormatUint(r.ID, 10)
}

// ParseRef parses the "kind:id" form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(kind) == "" {
		return Ref{}, fmt.Errorf("invalid reference %q: want kind:id", s)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid reference %q: %w", s, err)
	}
	return Ref{Kind: strings.TrimSpace(kind), ID: id}, nil
}

// Identity is the canonical key used to enforce one rating per target.
// Actor wins when set; Device keys anonymous ratings.
type Identity struct {
	Actor  *Ref
	Device string
}

// IsZero reports whether neither identity channel is present.
func (i Identity) IsZero() bool {
	return i.Actor == nil && i.Device == ""
}

// Anonymous reports whether the identity is keyed by device only.
func (i Identity) Anonymous() bool {
	return i.Actor == nil && i.Device != ""
}

func (i Identity) String() string {
	if i.Actor != nil {
		return i.Actor.String()
	}
	return "device:" + i.Device
}

// Metadata is captured alongside a rating and overwritten on every change.
type Metadata struct {
	IP     string
	Device string
	Source string
}

// Rating represents a single identity's rating for a target.
type Rating struct {
	ID        int64     `json:"id"`
	Target    Ref       `json:"target"`
	Actor     *Ref      `json:"actor,omitempty"`
	Device    string    `json:"device,omitempty"`
	Rate      int       `json:"rate"`
	IP        string    `json:"ip,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Identity returns the key the rating was created under.
func (r Rating) Identity() Identity {
	if r.Actor != nil {
		actor := *r.Actor
		return Identity{Actor: &actor}
	}
	return Identity{Device: r.Device}
}

// Matches reports whether the rating belongs to id on the same single channel.
func (r Rating) Matches(id Identity) bool {
	if id.Actor != nil {
		return r.Actor != nil && *r.Actor == *id.Actor
	}
	return r.Actor == nil && id.Device != "" && r.Device == id.Device
}
