package model

// Snapshot is the unit of persistence: every account plus the full usage log.
type Snapshot struct {
	Users map[string]Account `json:"users"`
	Logs  []UsageEvent       `json:"logs"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users: make(map[string]Account),
		Logs:  make([]UsageEvent, 0),
	}
}

// Normalize replaces nil collections so an empty snapshot encodes as
// {"users": {}, "logs": []}.
func (s *Snapshot) Normalize() *Snapshot {
	if s.Users == nil {
		s.Users = make(map[string]Account)
	}
	if s.Logs == nil {
		s.Logs = make([]UsageEvent, 0)
	}
	return s
}

// Clone returns a deep copy safe to hand out after the caller releases its lock.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Users: make(map[string]Account, len(s.Users)),
		Logs:  make([]UsageEvent, len(s.Logs)),
	}
	for id, account := range s.Users {
		out.Users[id] = account
	}
	copy(out.Logs, s.Logs)
	return out
}
