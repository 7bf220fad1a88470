package agent

// Wire models for the agent protocol. Field names follow the agent's JSON
// contract, so struct tags are authoritative here.

// ExtensionConfiguration carries authentication and telemetry settings
// delivered with the initialize request.
type ExtensionConfiguration struct {
	AccessToken     string            `json:"accessToken"`
	ServerEndpoint  string            `json:"serverEndpoint"`
	Codebase        string            `json:"codebase,omitempty"`
	Proxy           string            `json:"proxy,omitempty"`
	CustomHeaders   map[string]string `json:"customHeaders"`
	AnonymousUserID string            `json:"anonymousUserID,omitempty"`
	Debug           *bool             `json:"debug,omitempty"`
	VerboseDebug    *bool             `json:"verboseDebug,omitempty"`
}

// ClientCapabilities declares which protocol surfaces this client handles.
type ClientCapabilities struct {
	Completions       string `json:"completions"`
	Chat              string `json:"chat"`
	Git               string `json:"git"`
	ProgressBars      string `json:"progressBars"`
	Edit              string `json:"edit"`
	EditWorkspace     string `json:"editWorkspace"`
	UntitledDocuments string `json:"untitledDocuments"`
	ShowDocument      string `json:"showDocument"`
	CodeLenses        string `json:"codeLenses"`
	ShowWindowMessage string `json:"showWindowMessage"`
}

func defaultCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Completions:       "none",
		Chat:              "streaming",
		Git:               "none",
		ProgressBars:      "none",
		Edit:              "none",
		EditWorkspace:     "none",
		UntitledDocuments: "none",
		ShowDocument:      "none",
		CodeLenses:        "none",
		ShowWindowMessage: "notification",
	}
}

// ClientInfo is the initialize request payload.
type ClientInfo struct {
	Name                   string                 `json:"name"`
	Version                string                 `json:"version"`
	WorkspaceRootURI       string                 `json:"workspaceRootUri"`
	ExtensionConfiguration ExtensionConfiguration `json:"extensionConfiguration"`
	Capabilities           ClientCapabilities     `json:"capabilities"`
}

// AuthStatus is the authentication detail inside ServerInfo.
type AuthStatus struct {
	Endpoint      string `json:"endpoint"`
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName,omitempty"`
	PrimaryEmail  string `json:"primaryEmail,omitempty"`
	SiteVersion   string `json:"siteVersion,omitempty"`
}

// ServerInfo is the initialize response payload.
type ServerInfo struct {
	Name          string      `json:"name"`
	Authenticated bool        `json:"authenticated"`
	CodyEnabled   bool        `json:"codyEnabled"`
	CodyVersion   string      `json:"codyVersion,omitempty"`
	AuthStatus    *AuthStatus `json:"authStatus,omitempty"`
}

// ChatMessage is one entry of a conversation transcript.
type ChatMessage struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcript is the chat/submitMessage result: the full conversation so far.
type Transcript struct {
	Type     string              `json:"type"`
	Messages []TranscriptMessage `json:"messages"`
}

// TranscriptMessage extends ChatMessage with the context the agent attached.
type TranscriptMessage struct {
	Speaker      string        `json:"speaker"`
	Text         string        `json:"text"`
	ContextFiles []ContextFile `json:"contextFiles,omitempty"`
}

// ContextFile references a file (and optionally a line range) the agent used
// as context for an answer.
type ContextFile struct {
	URI   FileURI    `json:"uri"`
	Range *FileRange `json:"range,omitempty"`
}

type FileURI struct {
	Path string `json:"path"`
}

type FileRange struct {
	Start FilePosition `json:"start"`
	End   FilePosition `json:"end"`
}

type FilePosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// LastAnswer returns the text of the most recent assistant message.
func (t Transcript) LastAnswer() (string, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Speaker == "assistant" {
			return t.Messages[i].Text, true
		}
	}
	return "", false
}

// Repo identifies a remote repository known to the endpoint.
type Repo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ChatModel describes one model offered for a usage class.
type ChatModel struct {
	Model    string `json:"model"`
	Title    string `json:"title,omitempty"`
	Provider string `json:"provider,omitempty"`
	Default  bool   `json:"default,omitempty"`
}
