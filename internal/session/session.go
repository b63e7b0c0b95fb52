// Package session holds the UI surface's per-session state: current page,
// selected file, cached transcript/answers, and the follow-up conversation.
// Nothing here is persisted; the lifecycle rules are explicit methods instead
// of ambient globals.
package session

import (
	"sync"

	"github.com/google/uuid"

	"audio-insights-go/internal/qna"
)

type Page string

const (
	PageUploader      Page = "uploader"
	PageAdhoc         Page = "adhoc"
	PageQuestionnaire Page = "questionnaire"
)

// Session is one user's state. All mutation goes through methods that hold
// the session lock.
type Session struct {
	ID string

	mu           sync.Mutex
	page         Page
	selectedFile string
	transcript   string
	answers      map[string]string
	history      []qna.Turn
	// Per-file conversation stash: the questionnaire page restores a file's
	// prior conversation when the user comes back to it.
	stash map[string][]qna.Turn
}

// SwitchPage clears every piece of session-scoped state below the page.
func (s *Session) SwitchPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == p {
		return
	}
	s.page = p
	s.selectedFile = ""
	s.transcript = ""
	s.answers = nil
	s.history = nil
	s.stash = nil
}

func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// SelectFile changes the working file. The outgoing file's conversation is
// stashed and the incoming file's prior conversation (if any) is restored;
// transcript and answers caches are dropped either way.
func (s *Session) SelectFile(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedFile == key {
		return
	}
	if s.stash == nil {
		s.stash = make(map[string][]qna.Turn)
	}
	if s.selectedFile != "" {
		s.stash[s.selectedFile] = s.history
	}
	s.history = s.stash[key]
	s.selectedFile = key
	s.transcript = ""
	s.answers = nil
}

func (s *Session) SelectedFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedFile
}

// CacheResults stores the transcript and answers fetched for the selected
// file.
func (s *Session) CacheResults(transcript string, answers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = transcript
	s.answers = answers
}

func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Answers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// AppendExchange records one user question and the assistant's reply.
func (s *Session) AppendExchange(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		qna.Turn{Role: "User", Content: question},
		qna.Turn{Role: "Assistant", Content: answer},
	)
}

func (s *Session) History() []qna.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]qna.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Manager owns all live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) Create() *Session {
	s := &Session{ID: uuid.New().String(), page: PageUploader}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate resolves id, falling back to a fresh session when id is empty
// or unknown.
func (m *Manager) GetOrCreate(id string) *Session {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s
		}
	}
	return m.Create()
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
