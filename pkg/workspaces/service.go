// Package workspaces manages collaboration spaces and their members.
package workspaces

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/fanout"
	"taskboard-sync-backend/pkg/membership"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/utils"

	"github.com/rs/zerolog"
)

const maxCodeAttempts = 5

var (
	ErrNotFound      = database.ErrNotFound
	ErrForbidden     = errors.New("not a member of this workspace")
	ErrInvalidCode   = errors.New("workspace code must be 6 digits")
	ErrCodeExhausted = errors.New("could not allocate a unique workspace code")
)

type Service struct {
	db      database.DatabaseInterface
	auth    *membership.Authority
	events  fanout.Publisher
	logger  zerolog.Logger
	newCode func() (string, error)
}

type Option func(*Service)

// WithCodeGenerator replaces the random join-code source.
func WithCodeGenerator(f func() (string, error)) Option {
	return func(s *Service) { s.newCode = f }
}

func NewService(db database.DatabaseInterface, auth *membership.Authority, events fanout.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	if events == nil {
		events = fanout.Nop{}
	}
	s := &Service{
		db:      db,
		auth:    auth,
		events:  events,
		logger:  logger.With().Str("component", "workspaces").Logger(),
		newCode: utils.GenerateWorkspaceCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a workspace with a fresh join code. The creator is its first member.
func (s *Service) Create(ctx context.Context, name, userID string) (*models.Workspace, error) {
	name = strings.TrimSpace(name)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		if _, err := s.db.GetWorkspaceByCode(ctx, code); err == nil {
			s.logger.Debug().Int("attempt", attempt).Msg("workspace code collision")
			continue
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("check code: %w", err)
		}

		ws := &models.Workspace{Code: code, Name: name, CreatedBy: userID}
		if ws.Name == "" {
			ws.Name = "Workspace-" + code
		}
		err = s.db.CreateWorkspace(ctx, ws)
		if errors.Is(err, database.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}

		s.publish(fanout.EventWorkspaceCreated, ws.ID, userID, ws)
		s.logger.Info().Str("workspace_id", ws.ID).Str("user_id", userID).Msg("workspace created")
		return ws, nil
	}
	return nil, ErrCodeExhausted
}

// Join adds userID to the workspace with the given code. Joining twice is a
// no-op; joined reports whether membership changed.
func (s *Service) Join(ctx context.Context, code, userID string) (ws *models.Workspace, joined bool, err error) {
	code = strings.TrimSpace(code)
	if !utils.IsWorkspaceCode(code) {
		return nil, false, ErrInvalidCode
	}
	ws, err = s.db.GetWorkspaceByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, false, fmt.Errorf("workspace code %s: %w", code, ErrNotFound)
		}
		return nil, false, err
	}

	joined, err = s.db.AddWorkspaceMember(ctx, ws.ID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("join workspace: %w", err)
	}
	if joined {
		ws.Members = append(ws.Members, userID)
		payload := map[string]string{"workspace_id": ws.ID, "user_id": userID}
		if u, err := s.db.GetUserByID(ctx, userID); err == nil {
			payload["username"] = u.Username
		}
		s.publish(fanout.EventMemberAdded, ws.ID, userID, payload)
		s.logger.Info().Str("workspace_id", ws.ID).Str("user_id", userID).Msg("member joined")
	}
	return ws, joined, nil
}

// ListForUser returns the workspaces userID belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Workspace, error) {
	list, err := s.db.ListUserWorkspaces(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	if list == nil {
		list = []models.Workspace{}
	}
	return list, nil
}

// Members lists a workspace's members in join order.
func (s *Service) Members(ctx context.Context, workspaceID, userID string) ([]models.WorkspaceMember, error) {
	ok, err := s.auth.IsMember(ctx, workspaceID, userID)
	if errors.Is(err, membership.ErrWorkspaceNotFound) {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.db.ListWorkspaceMembers(ctx, workspaceID)
}

func (s *Service) publish(typ fanout.EventType, workspaceID, userID string, payload interface{}) {
	e, err := fanout.NewEvent(typ, workspaceID, payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("build fan-out event")
		return
	}
	s.events.Publish(e.ForUser(userID))
}
