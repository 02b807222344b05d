package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"live-session/internal/models"
	"live-session/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessagesBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, before, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDeleteMessage(ctx context.Context, conversationID, messageID, senderID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, messageID, senderID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

type ReadStateRepositoryMock struct {
	mock.Mock
}

func (m *ReadStateRepositoryMock) GetReadState(ctx context.Context, sessionID, participantID string) (models.ReadState, error) {
	args := m.Called(ctx, sessionID, participantID)
	var out models.ReadState
	if val := args.Get(0); val != nil {
		out = val.(models.ReadState)
	}
	return out, args.Error(1)
}

func (m *ReadStateRepositoryMock) MarkRead(ctx context.Context, sessionID, participantID string, at time.Time) (models.ReadState, error) {
	args := m.Called(ctx, sessionID, participantID, at)
	var out models.ReadState
	if val := args.Get(0); val != nil {
		out = val.(models.ReadState)
	}
	return out, args.Error(1)
}

func (m *ReadStateRepositoryMock) IncrementUnread(ctx context.Context, sessionID, senderID string) error {
	args := m.Called(ctx, sessionID, senderID)
	return args.Error(0)
}

type TypingRepositoryMock struct {
	mock.Mock
}

func (m *TypingRepositoryMock) UpsertTyping(ctx context.Context, sessionID string, entry models.TypingEntry) (models.TypingEntry, error) {
	args := m.Called(ctx, sessionID, entry)
	var out models.TypingEntry
	if val := args.Get(0); val != nil {
		out = val.(models.TypingEntry)
	}
	return out, args.Error(1)
}

func (m *TypingRepositoryMock) ListTyping(ctx context.Context, sessionID string) ([]models.TypingEntry, error) {
	args := m.Called(ctx, sessionID)
	var list []models.TypingEntry
	if val := args.Get(0); val != nil {
		list = val.([]models.TypingEntry)
	}
	return list, args.Error(1)
}

type ParticipantRepositoryMock struct {
	mock.Mock
}

func (m *ParticipantRepositoryMock) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	args := m.Called(ctx, sessionID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ParticipantRepositoryMock) GetParticipant(ctx context.Context, sessionID, userID string) (models.Participant, error) {
	args := m.Called(ctx, sessionID, userID)
	var out models.Participant
	if val := args.Get(0); val != nil {
		out = val.(models.Participant)
	}
	return out, args.Error(1)
}

func (m *ParticipantRepositoryMock) JoinSession(ctx context.Context, sessionID, userID, displayName string, role models.Role) (models.Participant, error) {
	args := m.Called(ctx, sessionID, userID, displayName, role)
	var out models.Participant
	if val := args.Get(0); val != nil {
		out = val.(models.Participant)
	}
	return out, args.Error(1)
}

func (m *ParticipantRepositoryMock) UpdateRole(ctx context.Context, sessionID, userID string, role models.Role, maxGuests int) (models.Participant, error) {
	args := m.Called(ctx, sessionID, userID, role, maxGuests)
	var out models.Participant
	if val := args.Get(0); val != nil {
		out = val.(models.Participant)
	}
	return out, args.Error(1)
}

type InvitationRepositoryMock struct {
	mock.Mock
}

func (m *InvitationRepositoryMock) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	args := m.Called(ctx, inv)
	var out models.Invitation
	if val := args.Get(0); val != nil {
		out = val.(models.Invitation)
	}
	return out, args.Error(1)
}

func (m *InvitationRepositoryMock) GetInvitation(ctx context.Context, sessionID, invitationID string) (models.Invitation, error) {
	args := m.Called(ctx, sessionID, invitationID)
	var out models.Invitation
	if val := args.Get(0); val != nil {
		out = val.(models.Invitation)
	}
	return out, args.Error(1)
}

func (m *InvitationRepositoryMock) ListPending(ctx context.Context, sessionID string) ([]models.Invitation, error) {
	args := m.Called(ctx, sessionID)
	var list []models.Invitation
	if val := args.Get(0); val != nil {
		list = val.([]models.Invitation)
	}
	return list, args.Error(1)
}

func (m *InvitationRepositoryMock) TransitionStatus(ctx context.Context, sessionID, invitationID string, from, to models.InvitationStatus) (models.Invitation, error) {
	args := m.Called(ctx, sessionID, invitationID, from, to)
	var out models.Invitation
	if val := args.Get(0); val != nil {
		out = val.(models.Invitation)
	}
	return out, args.Error(1)
}

func (m *InvitationRepositoryMock) FindAccepted(ctx context.Context, sessionID, guestID string) (models.Invitation, error) {
	args := m.Called(ctx, sessionID, guestID)
	var out models.Invitation
	if val := args.Get(0); val != nil {
		out = val.(models.Invitation)
	}
	return out, args.Error(1)
}

// BroadcasterMock records feed events handed to the hub.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Broadcast(ctx context.Context, ev models.FeedEvent) {
	m.Called(ctx, ev)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ReadStateRepository = (*ReadStateRepositoryMock)(nil)
var _ repositories.TypingRepository = (*TypingRepositoryMock)(nil)
var _ repositories.ParticipantRepository = (*ParticipantRepositoryMock)(nil)
var _ repositories.InvitationRepository = (*InvitationRepositoryMock)(nil)
