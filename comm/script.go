package comm

// Response is one scripted reply from a Script
type Response struct {
	Text string
	Err  error
}

// Script is an in-memory Transport which replays canned responses and records
// every command written to it.  Once the responses run out, Read times out,
// as a real instrument with nothing to say would.
type Script struct {
	Responses []Response
	Written   []string

	// WriteErr, if not nil, is returned by every Write
	WriteErr error
}

// NewScript creates a Script that answers with each of responses in turn
func NewScript(responses ...string) *Script {
	s := &Script{}
	for _, r := range responses {
		s.Responses = append(s.Responses, Response{Text: r})
	}
	return s
}

// Write records cmd
func (s *Script) Write(cmd string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Written = append(s.Written, cmd)
	return nil
}

// Read pops the next scripted response
func (s *Script) Read() (string, error) {
	if len(s.Responses) == 0 {
		return "", ErrTimeout
	}
	r := s.Responses[0]
	s.Responses = s.Responses[1:]
	return r.Text, r.Err
}
