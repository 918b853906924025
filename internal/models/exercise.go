package models

// Exercise is an entry in a trainer's exercise library.
type Exercise struct {
	SyncMeta
	TrainerID    string `json:"trainer_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	MuscleGroup  string `json:"muscle_group,omitempty"`
	Equipment    string `json:"equipment,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Collection returns the collection name for Exercise.
func (Exercise) Collection() string {
	return CollectionExercises
}

// ExercisePatch holds the mutable fields of Exercise.
type ExercisePatch struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	MuscleGroup  *string `json:"muscle_group,omitempty"`
	Equipment    *string `json:"equipment,omitempty"`
	VideoURL     *string `json:"video_url,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

// Apply merges the patch into e.
func (p ExercisePatch) Apply(e *Exercise) {
	set(&e.Name, p.Name)
	set(&e.Description, p.Description)
	set(&e.MuscleGroup, p.MuscleGroup)
	set(&e.Equipment, p.Equipment)
	set(&e.VideoURL, p.VideoURL)
	set(&e.ThumbnailURL, p.ThumbnailURL)
}
