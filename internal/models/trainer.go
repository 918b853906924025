package models

// TrainerProgram is a multi-week training plan, optionally assigned to a client.
type TrainerProgram struct {
	SyncMeta
	TrainerID     string   `json:"trainer_id"`
	ClientID      string   `json:"client_id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	DurationWeeks int      `json:"duration_weeks,omitempty"`
	ExerciseIDs   []string `json:"exercise_ids,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
}

// Collection returns the collection name for TrainerProgram.
func (TrainerProgram) Collection() string {
	return CollectionTrainerPrograms
}

// TrainerProgramPatch holds the mutable fields of TrainerProgram.
type TrainerProgramPatch struct {
	ClientID      *string   `json:"client_id,omitempty"`
	Title         *string   `json:"title,omitempty"`
	Description   *string   `json:"description,omitempty"`
	DurationWeeks *int      `json:"duration_weeks,omitempty"`
	ExerciseIDs   *[]string `json:"exercise_ids,omitempty"`
	CoverURL      *string   `json:"cover_url,omitempty"`
}

// Apply merges the patch into tp.
func (p TrainerProgramPatch) Apply(tp *TrainerProgram) {
	set(&tp.ClientID, p.ClientID)
	set(&tp.Title, p.Title)
	set(&tp.Description, p.Description)
	set(&tp.DurationWeeks, p.DurationWeeks)
	if p.ExerciseIDs != nil {
		tp.ExerciseIDs = append([]string(nil), (*p.ExerciseIDs)...)
	}
	set(&tp.CoverURL, p.CoverURL)
}

// TrainerService is a bookable offering on a trainer's profile.
type TrainerService struct {
	SyncMeta
	TrainerID       string `json:"trainer_id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// Collection returns the collection name for TrainerService.
func (TrainerService) Collection() string {
	return CollectionTrainerServices
}

// TrainerServicePatch holds the mutable fields of TrainerService.
type TrainerServicePatch struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	PriceCents      *int64  `json:"price_cents,omitempty"`
	Currency        *string `json:"currency,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

// Apply merges the patch into s.
func (p TrainerServicePatch) Apply(s *TrainerService) {
	set(&s.Title, p.Title)
	set(&s.Description, p.Description)
	set(&s.PriceCents, p.PriceCents)
	set(&s.Currency, p.Currency)
	set(&s.DurationMinutes, p.DurationMinutes)
}

// TrainerTestimonial is a client quote shown on the trainer profile.
type TrainerTestimonial struct {
	SyncMeta
	TrainerID string `json:"trainer_id"`
	ClientID  string `json:"client_id,omitempty"`
	Author    string `json:"author"`
	Quote     string `json:"quote"`
	Rating    int    `json:"rating,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// Collection returns the collection name for TrainerTestimonial.
func (TrainerTestimonial) Collection() string {
	return CollectionTrainerTestimonials
}

// TrainerTestimonialPatch holds the mutable fields of TrainerTestimonial.
type TrainerTestimonialPatch struct {
	Author   *string `json:"author,omitempty"`
	Quote    *string `json:"quote,omitempty"`
	Rating   *int    `json:"rating,omitempty"`
	PhotoURL *string `json:"photo_url,omitempty"`
}

// Apply merges the patch into tt.
func (p TrainerTestimonialPatch) Apply(tt *TrainerTestimonial) {
	set(&tt.Author, p.Author)
	set(&tt.Quote, p.Quote)
	set(&tt.Rating, p.Rating)
	set(&tt.PhotoURL, p.PhotoURL)
}
