package interceptor

// Phase identifies a lifecycle event or dispatch pipeline
type Phase string

const (
	PhasePostConstruct Phase = "post-construct"
	PhasePreDestroy    Phase = "pre-destroy"
	PhasePrePassivate  Phase = "pre-passivate"
	PhasePostActivate  Phase = "post-activate"
	PhaseAroundInvoke  Phase = "around-invoke"
	PhaseAroundTimeout Phase = "around-timeout"
)

// Band is a named priority group within a chain. Bands are totally ordered
// per phase; contributions within a band keep submission order.
type Band string

const (
	BandResourceInjection  Band = "resource-injection"
	BandUninjection        Band = "uninjection"
	BandDestruction        Band = "destruction"
	BandUserCallbacks      Band = "user-callbacks"
	BandInitial            Band = "initial"
	BandTerminal           Band = "terminal"
	BandContextPropagation Band = "context-propagation"
	BandSecurityContext    Band = "security-context"
)

// phaseBands is the slot registry: a fixed, total band ordering per phase,
// in execution order. Context-propagation bands wrap every chain, the
// terminal band performs the actual call and is always innermost.
// Pre-destroy is not the reverse of post-construct; it carries its own
// explicit order (uninjection before destruction before user callbacks).
var phaseBands = map[Phase][]Band{
	PhasePostConstruct: {
		BandContextPropagation,
		BandSecurityContext,
		BandResourceInjection,
		BandUserCallbacks,
		BandTerminal,
	},
	PhasePreDestroy: {
		BandContextPropagation,
		BandSecurityContext,
		BandUninjection,
		BandDestruction,
		BandUserCallbacks,
		BandTerminal,
	},
	PhasePrePassivate: {
		BandContextPropagation,
		BandSecurityContext,
		BandUserCallbacks,
		BandTerminal,
	},
	PhasePostActivate: {
		BandContextPropagation,
		BandSecurityContext,
		BandUserCallbacks,
		BandTerminal,
	},
	PhaseAroundInvoke: {
		BandInitial,
		BandUserCallbacks,
		BandTerminal,
	},
	PhaseAroundTimeout: {
		BandInitial,
		BandUserCallbacks,
		BandTerminal,
	},
}

// BandsFor returns the ordered band identifiers for a phase.
// The returned slice is a copy; the registry itself is pure configuration.
func BandsFor(phase Phase) []Band {
	bands, ok := phaseBands[phase]
	if !ok {
		return nil
	}
	out := make([]Band, len(bands))
	copy(out, bands)
	return out
}

// LifecyclePhases returns the lifecycle phases in a stable order.
// Dispatch phases (around-invoke, around-timeout) are excluded.
func LifecyclePhases() []Phase {
	return []Phase{PhasePostConstruct, PhasePreDestroy, PhasePrePassivate, PhasePostActivate}
}

// bandRank returns the position of a band within a phase's ordering
func bandRank(phase Phase, band Band) (int, bool) {
	for i, b := range phaseBands[phase] {
		if b == band {
			return i, true
		}
	}
	return 0, false
}
