package speech

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-companion/internal/dictation"
)

// line is one JSON record emitted by a recognizer helper or stored in a
// script file. A record carries either a single result, a batch of results,
// an error code or an end marker.
type line struct {
	Text    string       `json:"text,omitempty"`
	Final   bool         `json:"final,omitempty"`
	Results []lineResult `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
	End     bool         `json:"end,omitempty"`
}

type lineResult struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// step is the decoded meaning of a line.
type step struct {
	events []dictation.Event
	code   dictation.ErrorCode
	end    bool
}

func decodeLine(data []byte) (step, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return step{}, false, nil
	}
	var l line
	if err := json.Unmarshal(data, &l); err != nil {
		return step{}, false, fmt.Errorf("decode recognition line: %w", err)
	}
	switch {
	case l.Error != "":
		return step{code: dictation.ErrorCode(l.Error)}, true, nil
	case l.End:
		return step{end: true}, true, nil
	case len(l.Results) > 0:
		results := make([]dictation.Result, 0, len(l.Results))
		for _, r := range l.Results {
			results = append(results, dictation.Result{Text: r.Text, Final: r.Final})
		}
		return step{events: dictation.Collapse(results)}, true, nil
	default:
		kind := dictation.Interim
		if l.Final {
			kind = dictation.Final
		}
		return step{events: []dictation.Event{{Kind: kind, Text: l.Text}}}, true, nil
	}
}

// emit posts a step to the sink and reports whether the stream is over.
func emit(sink dictation.Sink, sessionID string, st step, interim bool) bool {
	if st.code != "" {
		sink.Post(dictation.ErrorSignal(sessionID, st.code))
		return true
	}
	if st.end {
		sink.Post(dictation.EndSignal(sessionID))
		return true
	}
	for _, evt := range st.events {
		if evt.Kind == dictation.Interim && !interim {
			continue
		}
		sink.Post(dictation.ResultSignal(sessionID, evt))
	}
	return false
}
