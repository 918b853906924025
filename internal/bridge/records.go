package bridge

import (
	"context"
	"encoding/json"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/repository"
)

// recordHandler exposes one typed repository through JSON.
type recordHandler interface {
	create(ctx context.Context, payload []byte) (interface{}, error)
	update(ctx context.Context, id string, patch []byte) (interface{}, error)
	remove(ctx context.Context, id string) error
	find(ctx context.Context, id string) (interface{}, error)
	list(ctx context.Context, opts []repository.Option) (interface{}, error)
}

type jsonRepo[T any, PT models.EntityPtr[T], P models.Patch[T]] struct {
	repo *repository.Repository[T, PT]
}

func (j jsonRepo[T, PT, P]) create(ctx context.Context, payload []byte) (interface{}, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "malformed "+j.repo.Collection()+" payload", err)
	}
	return j.repo.Create(ctx, &v)
}

func (j jsonRepo[T, PT, P]) update(ctx context.Context, id string, patch []byte) (interface{}, error) {
	var p P
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "malformed "+j.repo.Collection()+" patch", err)
	}
	return j.repo.Update(ctx, id, p)
}

func (j jsonRepo[T, PT, P]) remove(ctx context.Context, id string) error {
	return j.repo.Delete(ctx, id)
}

func (j jsonRepo[T, PT, P]) find(ctx context.Context, id string) (interface{}, error) {
	return j.repo.Find(ctx, id)
}

func (j jsonRepo[T, PT, P]) list(ctx context.Context, opts []repository.Option) (interface{}, error) {
	items, err := j.repo.List(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*T{}
	}
	return items, nil
}

func handlers(set *repository.Set) map[string]recordHandler {
	return map[string]recordHandler{
		models.CollectionClients:             jsonRepo[models.Client, *models.Client, models.ClientPatch]{set.Clients},
		models.CollectionClientPhotos:        jsonRepo[models.ClientPhoto, *models.ClientPhoto, models.ClientPhotoPatch]{set.ClientPhotos},
		models.CollectionExercises:           jsonRepo[models.Exercise, *models.Exercise, models.ExercisePatch]{set.Exercises},
		models.CollectionTrainerPrograms:     jsonRepo[models.TrainerProgram, *models.TrainerProgram, models.TrainerProgramPatch]{set.TrainerPrograms},
		models.CollectionTrainerServices:     jsonRepo[models.TrainerService, *models.TrainerService, models.TrainerServicePatch]{set.TrainerServices},
		models.CollectionTrainerTestimonials: jsonRepo[models.TrainerTestimonial, *models.TrainerTestimonial, models.TrainerTestimonialPatch]{set.TrainerTestimonials},
	}
}

// ListFilter narrows RecordList.
type ListFilter struct {
	Where          map[string]interface{} `json:"where,omitempty"`
	Status         []models.SyncStatus    `json:"status,omitempty"`
	IncludeDeleted bool                   `json:"include_deleted,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
}

func (f ListFilter) options() []repository.Option {
	var opts []repository.Option
	for field, value := range f.Where {
		opts = append(opts, repository.Where(field, value))
	}
	if len(f.Status) > 0 {
		opts = append(opts, repository.WithStatus(f.Status...))
	}
	if f.IncludeDeleted {
		opts = append(opts, repository.IncludeTombstones())
	}
	if f.Limit > 0 {
		opts = append(opts, repository.Limit(f.Limit))
	}
	return opts
}
