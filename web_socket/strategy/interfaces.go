package strategy

// ReadStrategy decides how the read loop reacts to failures. One instance
// belongs to one connection and is only touched by its read loop.
type ReadStrategy interface {
	// OnReadError reports whether err is an orderly close by the peer or by
	// us, as opposed to a broken connection.
	OnReadError(err error) (orderly bool)
	// OnViolation records an unclassifiable frame and reports whether the
	// connection should now be torn down.
	OnViolation() (tearDown bool)
	// OnFrame records a frame that classified cleanly.
	OnFrame()
}
