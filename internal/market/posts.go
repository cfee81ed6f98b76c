package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// CreatePostParams describes a new post.
type CreatePostParams struct {
	Creator   string
	ContentID string
	Function  domain.PostFunction
	Relation  domain.RelationKind
	ParentID  string
	// Caller is the authenticated key; it may be a session key of Creator.
	Caller string
}

// CreatePost opens a post for voting for the configured base duration.
func (e *Engine) CreatePost(ctx context.Context, p CreatePostParams) (domain.Post, error) {
	canonicalIDs(&p.Creator, &p.Caller)
	if p.Function == "" {
		p.Function = domain.FunctionNormal
	}
	if p.Relation == "" {
		p.Relation = domain.RelationRoot
	}
	if p.Creator == "" || p.ContentID == "" {
		return domain.Post{}, fmt.Errorf("market: create post: %w: creator and content id are required", domain.ErrInvalidInput)
	}
	if err := checkShape(p.Function, p.Relation, p.ParentID); err != nil {
		return domain.Post{}, fmt.Errorf("market: create post: %w", err)
	}

	now := e.clock()
	var post domain.Post
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := authorize(ctx, tx, p.Caller, p.Creator, domain.PrivilegePost, now); err != nil {
			return err
		}
		if p.Relation.HasParent() {
			if err := checkParent(ctx, tx, p.Relation, p.ParentID); err != nil {
				return err
			}
		}
		if _, err := ensureParticipant(ctx, tx, cfg, p.Creator, now); err != nil {
			return err
		}

		post = domain.Post{
			ID:        crypto.PostID(p.Creator, p.ContentID),
			Creator:   p.Creator,
			ContentID: p.ContentID,
			Function:  p.Function,
			Relation:  p.Relation,
			ParentID:  p.ParentID,
			State:     domain.PostStateOpen,
			StartTime: now,
			EndTime:   now.Add(cfg.BaseDuration),
		}
		return tx.CreatePost(ctx, post)
	})
	if err != nil {
		return domain.Post{}, fmt.Errorf("market: create post: %w", err)
	}
	e.logger.InfoContext(ctx, "market: post created",
		slog.String("post_id", post.ID),
		slog.String("creator", post.Creator),
		slog.String("relation", string(post.Relation)),
		slog.Time("end_time", post.EndTime),
	)
	return post, nil
}

// checkShape validates the function/relation combination before any reads.
func checkShape(fn domain.PostFunction, rel domain.RelationKind, parentID string) error {
	switch fn {
	case domain.FunctionNormal, domain.FunctionQuestion, domain.FunctionAnswer:
	default:
		return fmt.Errorf("%w: unknown function %q", domain.ErrInvalidRelation, fn)
	}
	switch rel {
	case domain.RelationRoot:
		if parentID != "" {
			return fmt.Errorf("%w: root post cannot have a parent", domain.ErrInvalidRelation)
		}
	case domain.RelationReply, domain.RelationQuote, domain.RelationAnswerTo:
		if parentID == "" {
			return fmt.Errorf("%w: %s requires a parent", domain.ErrInvalidParentPost, rel)
		}
	default:
		return fmt.Errorf("%w: unknown relation %q", domain.ErrInvalidRelation, rel)
	}
	switch {
	case fn == domain.FunctionQuestion && rel != domain.RelationRoot:
		return fmt.Errorf("%w: questions must be root posts", domain.ErrInvalidRelation)
	case fn == domain.FunctionAnswer && rel != domain.RelationAnswerTo:
		return fmt.Errorf("%w: answers must use answer_to", domain.ErrInvalidRelation)
	case rel == domain.RelationAnswerTo && fn != domain.FunctionAnswer:
		return fmt.Errorf("%w: answer_to requires an answer post", domain.ErrInvalidRelation)
	}
	return nil
}

func checkParent(ctx context.Context, tx domain.Tx, rel domain.RelationKind, parentID string) error {
	parent, err := tx.Post(ctx, parentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrInvalidParentPost, parentID)
	}
	if err != nil {
		return err
	}
	if rel != domain.RelationAnswerTo {
		return nil
	}
	if parent.Function != domain.FunctionQuestion {
		return domain.ErrAnswerMustTargetQuestion
	}
	if parent.Relation != domain.RelationRoot {
		return domain.ErrAnswerTargetNotRoot
	}
	return nil
}

// SetForcedOutcome fixes the winning side of an open answer ahead of
// settlement. Only the question's creator or the admin may call it.
func (e *Engine) SetForcedOutcome(ctx context.Context, caller, answerID string, side domain.Side) (domain.Post, error) {
	caller = canonicalID(caller)
	if !side.Valid() {
		return domain.Post{}, fmt.Errorf("market: forced outcome: %w: side %q", domain.ErrInvalidInput, side)
	}
	now := e.clock()
	var post domain.Post
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if post, err = loadPost(ctx, tx, answerID); err != nil {
			return err
		}
		if post.Function != domain.FunctionAnswer {
			return fmt.Errorf("%w: forced outcomes apply to answers only", domain.ErrInvalidRelation)
		}
		if post.State != domain.PostStateOpen {
			return domain.ErrPostNotOpen
		}
		question, err := loadPost(ctx, tx, post.ParentID)
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			if err := authorize(ctx, tx, caller, question.Creator, domain.PrivilegePost, now); err != nil {
				return err
			}
		}
		post.ForcedOutcome = side
		return tx.UpdatePost(ctx, post)
	})
	if err != nil {
		return domain.Post{}, fmt.Errorf("market: forced outcome: %w", err)
	}
	e.logger.InfoContext(ctx, "market: forced outcome set",
		slog.String("post_id", post.ID),
		slog.String("side", string(side)),
	)
	return post, nil
}
