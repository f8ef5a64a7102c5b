package sim

// MicrosimSync mirrors simulation state into an external microscopic
// traffic simulator. Sync failures are logged at debug level and never
// stop the run; the external tool is an observer, not an authority.
type MicrosimSync interface {
	// AddVehicle mirrors a newly created vehicle.
	AddVehicle(id string, vtype VehicleType, origin, destination Position) error
	// RemoveVehicle mirrors an arrival.
	RemoveVehicle(id string) error
	// SetPhase mirrors a traffic light phase change.
	SetPhase(intersectionID string, phase Phase) error
	// BlockEdge mirrors a road closure.
	BlockEdge(u, v string) error
	// StepOnce advances the external simulator by one step.
	StepOnce() error
}

// NopMicrosim is the default when no external simulator is attached.
type NopMicrosim struct{}

func (NopMicrosim) AddVehicle(string, VehicleType, Position, Position) error { return nil }
func (NopMicrosim) RemoveVehicle(string) error                               { return nil }
func (NopMicrosim) SetPhase(string, Phase) error                             { return nil }
func (NopMicrosim) BlockEdge(string, string) error                           { return nil }
func (NopMicrosim) StepOnce() error                                          { return nil }
