package emit

// Emitter receives every envelope published on a run's bus, in
// publication order. Implementations must be fast and must not panic;
// they run synchronously on the publishing path.
type Emitter interface {
	Emit(Envelope)
}
