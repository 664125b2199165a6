package netplay

// Status is a read-only summary of the client for the UI and the admin API.
type Status struct {
	State     string  `json:"state"`
	Method    string  `json:"method,omitempty"`
	Phase     string  `json:"phase,omitempty"`
	UnlockURL string  `json:"unlock_url,omitempty"`
	Room      string  `json:"room,omitempty"`
	Frame     uint32  `json:"frame"`
	Mapping   string  `json:"mapping"`
	Speed     float32 `json:"speed"`
	Rotations int     `json:"rotations,omitempty"`
	Rollbacks int     `json:"rollbacks,omitempty"`
	Resuming  []int32 `json:"resuming,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Status returns the current status.
func (np *Netplay) Status() Status {
	np.mu.Lock()
	defer np.mu.Unlock()
	st := Status{
		State:   np.state.Name(),
		Frame:   np.m.Frame(),
		Mapping: "unassigned",
		Speed:   1,
		Reason:  np.last,
	}
	switch s := np.state.(type) {
	case *Connecting:
		st.Method = s.method.String()
		st.Phase = s.Phase().String()
		st.UnlockURL = s.UnlockURL()
	case *Connected:
		d := s.driver
		st.Method = s.method.String()
		st.Room = d.Handle().Room
		st.Mapping = d.Mapping().String()
		st.Speed = d.Speed()
		st.Rotations = d.Rotations()
		st.Rollbacks = d.Rollbacks()
	case *Resuming:
		st.Method = s.method.String()
		st.Resuming = s.Candidates()
	case *Failed:
		st.Method = s.method.String()
		st.Reason = s.Reason
	}
	return st
}
