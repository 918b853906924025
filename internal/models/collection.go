package models

// Collection names.
const (
	CollectionClients             = "clients"
	CollectionClientPhotos        = "client_photos"
	CollectionExercises           = "exercises"
	CollectionTrainerPrograms     = "trainer_programs"
	CollectionTrainerServices     = "trainer_services"
	CollectionTrainerTestimonials = "trainer_testimonials"
)

// Collection describes how a record type relates to others for sync ordering
// and id reconciliation.
type Collection struct {
	Name string
	// DependsOn lists collections whose records must reach the server first.
	DependsOn []string
	// RefFields maps a JSON field (string or array of strings) to the
	// collection its ids point into.
	RefFields map[string]string
	// AssetFields are the JSON fields that hold uploaded asset URLs.
	AssetFields []string
}

var collections = []Collection{
	{
		Name:        CollectionClients,
		AssetFields: []string{"avatar_url"},
	},
	{
		Name:        CollectionExercises,
		AssetFields: []string{"video_url", "thumbnail_url"},
	},
	{
		Name: CollectionTrainerServices,
	},
	{
		Name:        CollectionTrainerPrograms,
		DependsOn:   []string{CollectionClients, CollectionExercises},
		RefFields:   map[string]string{"client_id": CollectionClients, "exercise_ids": CollectionExercises},
		AssetFields: []string{"cover_url"},
	},
	{
		Name:        CollectionTrainerTestimonials,
		DependsOn:   []string{CollectionClients},
		RefFields:   map[string]string{"client_id": CollectionClients},
		AssetFields: []string{"photo_url"},
	},
	{
		Name:        CollectionClientPhotos,
		DependsOn:   []string{CollectionClients},
		RefFields:   map[string]string{"client_id": CollectionClients},
		AssetFields: []string{"url"},
	},
}

// Collections returns every syncable collection.
func Collections() []Collection {
	out := make([]Collection, len(collections))
	copy(out, collections)
	return out
}

// LookupCollection returns the collection named name.
func LookupCollection(name string) (Collection, bool) {
	for _, c := range collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// HasAssetField reports whether field receives asset URLs in c.
func (c Collection) HasAssetField(field string) bool {
	for _, f := range c.AssetFields {
		if f == field {
			return true
		}
	}
	return false
}
