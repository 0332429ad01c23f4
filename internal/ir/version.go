package ir

const (
	// IRVersion is stamped on compiled rule sets.
	IRVersion = "1"

	// EngineVersion is reported by gpucep --version.
	EngineVersion = "0.1.0"
)
