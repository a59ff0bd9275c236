package session

// DocumentState is one document as the editor sees it.
type DocumentState struct {
	Value   string `json:"value"`
	Buffer  string `json:"buffer"`
	CanUndo bool   `json:"canUndo"`
	CanRedo bool   `json:"canRedo"`
}

// Snapshot is a consistent copy of a session's state. LastError is empty
// when no error is set.
type Snapshot struct {
	Version       uint64        `json:"version"`
	Template      DocumentState `json:"template"`
	Model         DocumentState `json:"model"`
	Data          DocumentState `json:"data"`
	DerivedOutput string        `json:"derivedOutput"`
	LastError     string        `json:"lastError,omitempty"`
	ActiveSample  string        `json:"activeSample"`
	Rebuilding    bool          `json:"rebuilding"`
}
