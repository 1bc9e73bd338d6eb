package providers

import (
	"context"
	"time"

	"github.com/perstream/checkout/models"
)

// Sponsor funds network fees for abstracted transfer operations. A grant
// carries the gas and fee fields the sponsor is willing to pay for; the
// operation is then submitted through the same service.
type Sponsor interface {
	SponsorOperation(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error)
	SubmitOperation(ctx context.Context, op *models.TransferOperation) (string, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

// GuardedSponsor wraps a Sponsor with a per-call deadline and a fuse.
// Sponsorship is a convenience path with a conventional fallback behind it,
// so a degraded sponsor must be cut off quickly rather than slow every
// checkout to its timeout.
type GuardedSponsor struct {
	sponsor Sponsor
	fuse    *Fuse
	timeout time.Duration
}

func CreateGuardedSponsor(sponsor Sponsor, timeout time.Duration, onStateChange func(name string, from, to FuseState)) *GuardedSponsor {
	return &GuardedSponsor{
		sponsor: sponsor,
		timeout: timeout,
		fuse: CreateFuse(FuseConfig{
			Name:          sponsor.Name(),
			MaxFailures:   5,
			Timeout:       30 * time.Second,
			HalfOpenMax:   3,
			OnStateChange: onStateChange,
		}),
	}
}

func (g *GuardedSponsor) SponsorOperation(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var grant *models.SponsorshipGrant
	err := g.fuse.Execute(ctx, func() error {
		var err error
		grant, err = g.sponsor.SponsorOperation(ctx, op)
		return err
	})
	return grant, err
}

func (g *GuardedSponsor) SubmitOperation(ctx context.Context, op *models.TransferOperation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var hash string
	err := g.fuse.Execute(ctx, func() error {
		var err error
		hash, err = g.sponsor.SubmitOperation(ctx, op)
		return err
	})
	return hash, err
}

func (g *GuardedSponsor) IsAvailable(ctx context.Context) bool {
	if g.fuse.State() == FuseOpen {
		return false
	}
	return g.sponsor.IsAvailable(ctx)
}

func (g *GuardedSponsor) Name() string {
	return g.sponsor.Name()
}

func (g *GuardedSponsor) FuseState() FuseState {
	return g.fuse.State()
}
