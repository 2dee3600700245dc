package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/stars/internal/domain"
)

type user struct{ id uint64 }

func (u user) RaterRef() domain.Ref { return domain.Ref{Kind: "user", ID: u.id} }

func TestResolve(t *testing.T) {
	r := Resolver{DefaultSource: "web"}

	tests := []struct {
		name     string
		in       Input
		wantID   string
		wantMeta domain.Metadata
	}{
		{
			name:     "actor wins over device",
			in:       Input{Actor: user{7}, Device: "dev"},
			wantID:   "user:7",
			wantMeta: domain.Metadata{Device: "dev", Source: "web"},
		},
		{
			name:     "device only",
			in:       Input{Device: "  dev  "},
			wantID:   "device:dev",
			wantMeta: domain.Metadata{Device: "dev", Source: "web"},
		},
		{
			name:     "ambient device and source",
			in:       Input{Ambient: Ambient{Device: "hdr", Source: "ios", IP: "10.0.0.9"}},
			wantID:   "device:hdr",
			wantMeta: domain.Metadata{Device: "hdr", Source: "ios", IP: "10.0.0.9"},
		},
		{
			name:     "explicit beats ambient",
			in:       Input{Device: "own", Source: "cli", IP: "1.1.1.1", Ambient: Ambient{Device: "hdr", Source: "ios", IP: "10.0.0.9"}},
			wantID:   "device:own",
			wantMeta: domain.Metadata{Device: "own", Source: "cli", IP: "1.1.1.1"},
		},
		{
			name:     "zero actor falls back to device",
			in:       Input{Actor: domain.Ref{}, Device: "dev"},
			wantID:   "device:dev",
			wantMeta: domain.Metadata{Device: "dev", Source: "web"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, meta, err := r.Resolve(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id.String())
			assert.Equal(t, tt.wantMeta, meta)
		})
	}
}

func TestResolveWithoutIdentity(t *testing.T) {
	r := Resolver{DefaultSource: "web"}
	for _, in := range []Input{
		{},
		{Device: "   "},
		{Actor: domain.Ref{}, IP: "10.0.0.1"},
		{Ambient: Ambient{Source: "ios"}},
	} {
		_, _, err := r.Resolve(in)
		assert.ErrorIs(t, err, InvalidActorError{})
		assert.True(t, IsInputError(err))
	}
}
