package repository

import (
	"github.com/kimhsiao/fitsync/internal/db"
	"github.com/kimhsiao/fitsync/internal/models"
)

type (
	Clients             = Repository[models.Client, *models.Client]
	ClientPhotos        = Repository[models.ClientPhoto, *models.ClientPhoto]
	Exercises           = Repository[models.Exercise, *models.Exercise]
	TrainerPrograms     = Repository[models.TrainerProgram, *models.TrainerProgram]
	TrainerServices     = Repository[models.TrainerService, *models.TrainerService]
	TrainerTestimonials = Repository[models.TrainerTestimonial, *models.TrainerTestimonial]
)

func NewClients(store *db.Store) *Clients {
	return New[models.Client, *models.Client](store)
}

func NewClientPhotos(store *db.Store) *ClientPhotos {
	return New[models.ClientPhoto, *models.ClientPhoto](store)
}

func NewExercises(store *db.Store) *Exercises {
	return New[models.Exercise, *models.Exercise](store)
}

func NewTrainerPrograms(store *db.Store) *TrainerPrograms {
	return New[models.TrainerProgram, *models.TrainerProgram](store)
}

func NewTrainerServices(store *db.Store) *TrainerServices {
	return New[models.TrainerService, *models.TrainerService](store)
}

func NewTrainerTestimonials(store *db.Store) *TrainerTestimonials {
	return New[models.TrainerTestimonial, *models.TrainerTestimonial](store)
}

// Set bundles one repository per collection.
type Set struct {
	Clients             *Clients
	ClientPhotos        *ClientPhotos
	Exercises           *Exercises
	TrainerPrograms     *TrainerPrograms
	TrainerServices     *TrainerServices
	TrainerTestimonials *TrainerTestimonials
}

// NewSet creates every repository over store.
func NewSet(store *db.Store) *Set {
	return &Set{
		Clients:             NewClients(store),
		ClientPhotos:        NewClientPhotos(store),
		Exercises:           NewExercises(store),
		TrainerPrograms:     NewTrainerPrograms(store),
		TrainerServices:     NewTrainerServices(store),
		TrainerTestimonials: NewTrainerTestimonials(store),
	}
}
