package features

// NeutralHeadToHead is the ratio used when no head-to-head history is considered.
const NeutralHeadToHead = 0.5

// HeadToHead supplies the head_to_head_ratio column. Implementations must be
// pure and return a value in [0, 1].
type HeadToHead interface {
	Ratio(home, away TeamSnapshot) float64
}

// HeadToHeadFunc adapts a plain function to HeadToHead.
type HeadToHeadFunc func(home, away TeamSnapshot) float64

func (f HeadToHeadFunc) Ratio(home, away TeamSnapshot) float64 { return f(home, away) }

type constantHeadToHead float64

func (c constantHeadToHead) Ratio(TeamSnapshot, TeamSnapshot) float64 { return float64(c) }

// Builder assembles feature vectors. The zero value is not usable; call NewBuilder.
type Builder struct {
	h2h HeadToHead
}

// Option configures a Builder.
type Option func(*Builder)

// WithHeadToHead replaces the neutral head-to-head contributor.
func WithHeadToHead(h HeadToHead) Option {
	return func(b *Builder) {
		if h != nil {
			b.h2h = h
		}
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{h2h: constantHeadToHead(NeutralHeadToHead)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build is deterministic and performs no I/O.
func (b *Builder) Build(home, away TeamSnapshot, homeForm, awayForm Form) Vector {
	var v Vector

	v[HomeXG] = home.xg()
	v[AwayXG] = away.xg()
	v[XGDiff] = v[HomeXG] - v[AwayXG]

	v[HomePossession] = home.possession()
	v[AwayPossession] = away.possession()
	v[PossessionDiff] = v[HomePossession] - v[AwayPossession]

	v[HomeShotsOnTarget] = home.shotsOnTarget()
	v[AwayShotsOnTarget] = away.shotsOnTarget()

	v[HomeGoalsPerMatch] = home.GoalsPerMatch()
	v[AwayGoalsPerMatch] = away.GoalsPerMatch()
	v[HomeGoalsAgainstPerMatch] = home.GoalsAgainstPerMatch()
	v[AwayGoalsAgainstPerMatch] = away.GoalsAgainstPerMatch()

	v[HomeFormPoints] = homeForm.Points()
	v[AwayFormPoints] = awayForm.Points()
	v[FormDiff] = v[HomeFormPoints] - v[AwayFormPoints]

	v[HeadToHeadRatio] = b.h2h.Ratio(home, away)

	return v
}
