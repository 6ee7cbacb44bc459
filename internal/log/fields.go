package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldComponent = "component"

	// Media fields
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldFormat     = "format"
	FieldSwFormat   = "sw_format"
	FieldModifier   = "modifier"
	FieldPTS        = "pts"
	FieldTrackID    = "track_id"

	// Hardware fields
	FieldEngine   = "engine"
	FieldCore     = "core"
	FieldSoC      = "soc"
	FieldPoolMode = "pool_mode"
	FieldPoolSize = "pool_size"
	FieldFD       = "fd"
	FieldStatus   = "status"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
