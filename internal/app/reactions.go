package app

import (
	"context"
	"errors"

	"relay/api/internal/docstore"
)

const (
	ReactionAdded   = "ADDED"
	ReactionUpdated = "UPDATED"
	ReactionRemoved = "REMOVED"
)

var allowedReactionTypes = map[string]struct{}{
	"LIKE":  {},
	"LOVE":  {},
	"LAUGH": {},
	"WOW":   {},
	"SAD":   {},
	"ANGRY": {},
}

type ReactionOutcome struct {
	Result   string
	Reaction *docstore.Reaction
}

// ToggleReaction applies one user's reaction to a message. Repeating
// the current type removes it; a different type overwrites in place.
// The store's unique (message, user) index resolves concurrent
// first-time inserts to a single row, so no application lock is taken
// for single-document reaction state.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, reactionType string) (ReactionOutcome, error) {
	if _, ok := allowedReactionTypes[reactionType]; !ok {
		return ReactionOutcome{}, domainError(KindValidation, "BAD_REACTION", "unknown reaction type")
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, docstore.ErrMessageNotFound) {
			return ReactionOutcome{}, domainError(KindValidation, "MESSAGE_NOT_FOUND", "message does not exist")
		}
		return ReactionOutcome{}, mapInfra(err)
	}
	if msg.Deleted {
		return ReactionOutcome{}, domainError(KindValidation, "MESSAGE_DELETED", "cannot react to a deleted message")
	}

	existing, err := s.messages.GetReaction(ctx, messageID, userID)
	if err != nil {
		return ReactionOutcome{}, mapInfra(err)
	}
	if existing != nil && existing.Type == reactionType {
		if _, err := s.messages.RemoveReaction(ctx, messageID, userID); err != nil {
			return ReactionOutcome{}, mapInfra(err)
		}
		return ReactionOutcome{Result: ReactionRemoved}, nil
	}

	created, err := s.messages.UpsertReaction(ctx, messageID, userID, reactionType)
	if err != nil {
		return ReactionOutcome{}, mapInfra(err)
	}

	reaction, err := s.messages.GetReaction(ctx, messageID, userID)
	if err != nil {
		return ReactionOutcome{}, mapInfra(err)
	}
	result := ReactionUpdated
	if created {
		result = ReactionAdded
	}
	return ReactionOutcome{Result: result, Reaction: reaction}, nil
}
