package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/kiro-memory/pkg/models"
)

type SessionStoreSuite struct {
	suite.Suite
	store    *Store
	sessions *SessionStore
	ctx      context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = newTestStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.ctx = context.Background()
}

func (s *SessionStoreSuite) TestGetOrCreateSession() {
	session, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)
	s.Equal("ext-1", session.ExternalID)
	s.Equal("memory", session.Project)
	s.Equal(models.SessionActive, session.Status)
	s.NotZero(session.ID)
	s.NotZero(session.StartedAtEpoch)
}

func (s *SessionStoreSuite) TestGetOrCreateSessionIsIdempotent() {
	first, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)

	// A second call with a different project returns the original row
	// untouched.
	second, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "other")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal("memory", second.Project)
}

func (s *SessionStoreSuite) TestGetOrCreateSessionRequiresExternalID() {
	_, err := s.sessions.GetOrCreateSession(s.ctx, "", "memory")
	s.Error(err)
}

func (s *SessionStoreSuite) TestCompleteSession() {
	_, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)

	s.Require().NoError(s.sessions.CompleteSession(s.ctx, "ext-1", models.SessionCompleted))

	session, err := s.sessions.GetSessionByExternalID(s.ctx, "ext-1")
	s.Require().NoError(err)
	s.Equal(models.SessionCompleted, session.Status)
	s.True(session.CompletedAtEpoch.Valid)
}

func (s *SessionStoreSuite) TestCompleteSessionOnlyFromActive() {
	_, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)

	s.Require().NoError(s.sessions.CompleteSession(s.ctx, "ext-1", models.SessionFailed))
	// A later completion must not overwrite the terminal status.
	s.Require().NoError(s.sessions.CompleteSession(s.ctx, "ext-1", models.SessionCompleted))

	session, err := s.sessions.GetSessionByExternalID(s.ctx, "ext-1")
	s.Require().NoError(err)
	s.Equal(models.SessionFailed, session.Status)
}

func (s *SessionStoreSuite) TestCompleteSessionRejectsNonTerminalStatus() {
	s.Error(s.sessions.CompleteSession(s.ctx, "ext-1", models.SessionActive))
}

func (s *SessionStoreSuite) TestIncrementPromptCounter() {
	_, err := s.sessions.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)

	for want := 1; want <= 3; want++ {
		got, err := s.sessions.IncrementPromptCounter(s.ctx, "ext-1")
		s.Require().NoError(err)
		s.Equal(want, got)
	}
}

func (s *SessionStoreSuite) TestGetSessionByExternalIDMissing() {
	session, err := s.sessions.GetSessionByExternalID(s.ctx, "nope")
	s.Require().NoError(err)
	s.Nil(session)
}

func (s *SessionStoreSuite) TestGetRecentSessions() {
	for _, ext := range []string{"a", "b", "c"} {
		_, err := s.sessions.GetOrCreateSession(s.ctx, ext, "memory")
		s.Require().NoError(err)
	}
	_, err := s.sessions.GetOrCreateSession(s.ctx, "other", "elsewhere")
	s.Require().NoError(err)

	recent, err := s.sessions.GetRecentSessions(s.ctx, "memory", 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("c", recent[0].ExternalID)
	s.Equal("b", recent[1].ExternalID)
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}
