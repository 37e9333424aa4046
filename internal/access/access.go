// Package access holds the authorization predicates. They are pure
// functions over already-loaded entities; every orchestrator applies the
// relevant one after loading and before mutating.
package access

import "github.com/parley-chat/parley/internal/models"

// CanAccessConversation reports whether the identity may read or write a
// conversation and its messages: membership in the participant set.
func CanAccessConversation(userID string, conv *models.Conversation) bool {
	return conv.HasParticipant(userID)
}

// CanModifyMessage reports whether the identity may delete a message:
// only the sender may.
func CanModifyMessage(userID string, msg *models.Message) bool {
	return msg.SenderID == userID
}

// CanRemoveParticipant reports whether the identity may remove
// targetUserID from a conversation: leaving is always allowed, otherwise
// the remover must be a participant.
func CanRemoveParticipant(userID, targetUserID string, conv *models.Conversation) bool {
	return userID == targetUserID || conv.HasParticipant(userID)
}
