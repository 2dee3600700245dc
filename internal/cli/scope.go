package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

// scopeFlags selects exactly one of target, actor or device.
type scopeFlags struct {
	target string
	actor  string
	device string
}

func (s *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.target, "target", "", "rated entity as kind:id")
	cmd.Flags().StringVar(&s.actor, "actor", "", "rating actor as kind:id")
	cmd.Flags().StringVar(&s.device, "device", "", "anonymous device fingerprint")
	cmd.MarkFlagsMutuallyExclusive("target", "actor", "device")
	cmd.MarkFlagsOneRequired("target", "actor", "device")
}

func (s *scopeFlags) scope() (domain.Scope, error) {
	switch {
	case s.target != "":
		ref, err := domain.ParseRef(s.target)
		if err != nil {
			return domain.Scope{}, fmt.Errorf("%w: --target: %v", ledger.ErrInvalidInput, err)
		}
		return domain.TargetScope(ref), nil
	case s.actor != "":
		ref, err := domain.ParseRef(s.actor)
		if err != nil {
			return domain.Scope{}, fmt.Errorf("%w: --actor: %v", ledger.ErrInvalidInput, err)
		}
		return domain.ActorScope(ref), nil
	case strings.TrimSpace(s.device) != "":
		return domain.DeviceScope(strings.TrimSpace(s.device)), nil
	default:
		return domain.Scope{}, fmt.Errorf("%w: one of --target, --actor or --device is required", ledger.ErrInvalidInput)
	}
}
