package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type participationLockService struct {
	participations repository.ParticipationRepository
	vcs            VersionControl
	logger         zerolog.Logger
}

// NewParticipationLockService flags participations as locked and restores repository
// write access through the version control port on unlock.
func NewParticipationLockService(participations repository.ParticipationRepository, vcs VersionControl, logger zerolog.Logger) ParticipationLocker {
	return &participationLockService{
		participations: participations,
		vcs:            vcs,
		logger:         logger.With().Str("component", "participation_lock_service").Logger(),
	}
}

func (s *participationLockService) LockStudentParticipation(ctx context.Context, _ models.Exercise, participation models.Participation) error {
	if participation.Locked {
		return nil
	}
	if err := s.participations.SetLocked(ctx, participation.ID, true); err != nil {
		return fmt.Errorf("lock participation %d: %w", participation.ID, err)
	}
	s.logger.Debug().Uint("participation_id", participation.ID).Msg("participation locked")
	return nil
}

func (s *participationLockService) UnlockStudentRepositoryAndParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation) error {
	if s.vcs != nil && participation.RepositoryURI != "" {
		if err := s.vcs.GrantRepositoryWriteAccess(ctx, participation.RepositoryURI, exercise.ProjectKey, []string{participation.StudentLogin}); err != nil {
			return fmt.Errorf("unlock repository of participation %d: %w", participation.ID, err)
		}
	}
	if err := s.participations.SetLocked(ctx, participation.ID, false); err != nil {
		return fmt.Errorf("unlock participation %d: %w", participation.ID, err)
	}
	s.logger.Debug().Uint("participation_id", participation.ID).Msg("participation unlocked")
	return nil
}

// LockParticipation makes the repository read-only and flags the participation as locked.
func LockParticipation(ctx context.Context, vcs VersionControl, locker ParticipationLocker, exercise models.Exercise, participation models.Participation) error {
	if vcs != nil && participation.RepositoryURI != "" {
		if err := vcs.SetRepositoryPermissionsToReadOnly(ctx, participation.RepositoryURI, exercise.ProjectKey, []string{participation.StudentLogin}); err != nil {
			return fmt.Errorf("set repository of participation %d read-only: %w", participation.ID, err)
		}
	}
	if locker == nil {
		return nil
	}
	return locker.LockStudentParticipation(ctx, exercise, participation)
}
