package sim

// RunHeader identifies one simulation run for persistence.
type RunHeader struct {
	RunID    string
	Name     string
	Scenario string
	Seed     int64
}

// Recorder receives simulation data for external storage. All methods
// may fail without affecting the run: the scheduler logs and moves on.
type Recorder interface {
	Begin(h RunHeader) error
	RecordSnapshot(s Snapshot) error
	RecordVehicle(v VehicleStats) error
	RecordIntersection(i IntersectionStats) error
	End(runID string, simulatedSeconds float64) error
}

// NopRecorder discards everything. It is the default when no storage
// backend is configured.
type NopRecorder struct{}

func (NopRecorder) Begin(RunHeader) error                      { return nil }
func (NopRecorder) RecordSnapshot(Snapshot) error              { return nil }
func (NopRecorder) RecordVehicle(VehicleStats) error           { return nil }
func (NopRecorder) RecordIntersection(IntersectionStats) error { return nil }
func (NopRecorder) End(string, float64) error                  { return nil }
