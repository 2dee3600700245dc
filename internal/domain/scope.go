package domain

// Scope selects a set of ratings: everything one target received, or everything
// one actor or device gave. Exactly one of Target, Actor or Device is set.
type Scope struct {
	Target *Ref
	Actor  *Ref
	Device string
	// TargetKind narrows actor/device scopes to one kind of target.
	TargetKind string
}

// TargetScope selects the ratings a target received.
func TargetScope(target Ref) Scope {
	return Scope{Target: &target}
}

// ActorScope selects the ratings an actor gave.
func ActorScope(actor Ref) Scope {
	return Scope{Actor: &actor}
}

// DeviceScope selects the ratings given anonymously from one device.
func DeviceScope(device string) Scope {
	return Scope{Device: device}
}

// IdentityScope selects the ratings given under id.
func IdentityScope(id Identity) Scope {
	if id.Actor != nil {
		return ActorScope(*id.Actor)
	}
	return DeviceScope(id.Device)
}

// Valid reports whether exactly one selector is set. A selector holding a
// reference without a kind makes the scope invalid.
func (s Scope) Valid() bool {
	n := 0
	if s.Target != nil {
		if s.Target.IsZero() {
			return false
		}
		n++
	}
	if s.Actor != nil {
		if s.Actor.IsZero() {
			return false
		}
		n++
	}
	if s.Device != "" {
		n++
	}
	return n == 1
}

// Matches reports whether r falls inside the scope. Device scopes only cover
// anonymous rows, mirroring the identity rule.
func (s Scope) Matches(r Rating) bool {
	if s.TargetKind != "" && r.Target.Kind != s.TargetKind {
		return false
	}
	switch {
	case s.Target != nil:
		return r.Target == *s.Target
	case s.Actor != nil:
		return r.Actor != nil && *r.Actor == *s.Actor
	case s.Device != "":
		return r.Actor == nil && r.Device == s.Device
	}
	return false
}

// Key is a stable cache key for the scope.
func (s Scope) Key() string {
	var key string
	switch {
	case s.Target != nil:
		key = "target:" + s.Target.String()
	case s.Actor != nil:
		key = "actor:" + s.Actor.String()
	default:
		key = "device:" + s.Device
	}
	if s.TargetKind != "" {
		key += ":kind:" + s.TargetKind
	}
	return key
}

// Summary maps a rate value to how many ratings carry it. Absent keys mean zero.
type Summary map[int]int64

// Count returns the total number of ratings in the summary.
func (s Summary) Count() int64 {
	var total int64
	for _, n := range s {
		total += n
	}
	return total
}

// Average returns the arithmetic mean, or 0 for an empty summary.
func (s Summary) Average() float64 {
	var total, sum int64
	for rate, n := range s {
		total += n
		sum += int64(rate) * n
	}
	if total == 0 {
		return 0
	}
	return float64(sum) / float64(total)
}

// Stats bundles the aggregates exposed for a scope.
type Stats struct {
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
	Summary Summary `json:"summary"`
}
