package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/repo"
)

type EndorseOptions struct {
	EndorserID string
	EndorseeID string
	GuildID    string
	SkillID    string
	Comment    string
}

// Endorse records one member vouching for another in a guild. Both sides
// earn points and the endorsee is notified.
func (e Engine) Endorse(ctx context.Context, opts EndorseOptions) (domain.Endorsement, error) {
	switch {
	case opts.EndorserID == "":
		return domain.Endorsement{}, domain.Invalid("endorser_id", "is required")
	case opts.EndorseeID == "":
		return domain.Endorsement{}, domain.Invalid("endorsee_id", "is required")
	case opts.GuildID == "":
		return domain.Endorsement{}, domain.Invalid("guild_id", "is required")
	}
	if opts.EndorserID == opts.EndorseeID {
		return domain.Endorsement{}, domain.Transition("endorse", "%s cannot endorse themselves", opts.EndorserID)
	}
	ok, err := e.canInGroup(ctx, opts.EndorserID, opts.GuildID, domain.CapEndorse)
	if err != nil {
		return domain.Endorsement{}, err
	}
	if !ok {
		return domain.Endorsement{}, domain.Transition("endorse", "%s may not endorse in guild %s", opts.EndorserID, opts.GuildID)
	}
	member, err := e.isMember(ctx, opts.EndorseeID, opts.GuildID)
	if err != nil {
		return domain.Endorsement{}, err
	}
	if !member {
		return domain.Endorsement{}, domain.Transition("endorse", "%s is not a member of guild %s", opts.EndorseeID, opts.GuildID)
	}
	en := domain.Endorsement{
		ID:         uuid.NewString(),
		EndorserID: opts.EndorserID,
		EndorseeID: opts.EndorseeID,
		GuildID:    opts.GuildID,
		Comment:    strings.TrimSpace(opts.Comment),
		CreatedAt:  e.stamp(),
	}
	if opts.SkillID != "" {
		en.SkillID = ptr(opts.SkillID)
	}
	err = e.inTx(ctx, "endorse", func(r repo.Repo) error {
		if err := r.InsertEndorsement(ctx, en); err != nil {
			return err
		}
		return e.appendEvent(ctx, r, "endorsement.created", "endorsement", en.ID, en.EndorserID, events.EventPayload{
			"endorsee": en.EndorseeID, "guild_id": en.GuildID, "skill_id": opts.SkillID,
		})
	})
	if err != nil {
		return domain.Endorsement{}, err
	}
	e.awardBestEffort(ctx, Award{
		UserID: en.EndorserID, GuildID: en.GuildID, Action: domain.ActionEndorsementGiven, SkillID: opts.SkillID,
		ReferenceType: "endorsement", ReferenceID: en.ID,
	})
	e.awardBestEffort(ctx, Award{
		UserID: en.EndorseeID, GuildID: en.GuildID, Action: domain.ActionEndorsementReceived, SkillID: opts.SkillID,
		ReferenceType: "endorsement", ReferenceID: en.ID,
	})
	e.notify(ctx, Notification{
		UserID: en.EndorseeID, GroupID: en.GuildID, EventType: domain.EventEndorsementReceived, ReferenceID: en.ID,
		Context: domain.EndorsementContext{
			EndorsementID: en.ID, EndorserID: en.EndorserID, GuildID: en.GuildID, SkillID: opts.SkillID, Comment: en.Comment,
		},
	})
	return en, nil
}

func (e Engine) ListEndorsements(ctx context.Context, endorseeID, guildID string) ([]domain.Endorsement, error) {
	if endorseeID == "" {
		return nil, domain.Invalid("endorsee_id", "is required")
	}
	res, err := e.Repo.ListEndorsements(ctx, endorseeID, guildID)
	return res, storeErr("list endorsements", err)
}
