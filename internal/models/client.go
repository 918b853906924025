package models

// Client is a person coached by a trainer.
type Client struct {
	SyncMeta
	TrainerID string `json:"trainer_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Goals     string `json:"goals,omitempty"`
	Notes     string `json:"notes,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Collection returns the collection name for Client.
func (Client) Collection() string {
	return CollectionClients
}

// ClientPatch holds the mutable fields of Client.
type ClientPatch struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Goals     *string `json:"goals,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Apply merges the patch into c.
func (p ClientPatch) Apply(c *Client) {
	set(&c.Name, p.Name)
	set(&c.Email, p.Email)
	set(&c.Phone, p.Phone)
	set(&c.Goals, p.Goals)
	set(&c.Notes, p.Notes)
	set(&c.AvatarURL, p.AvatarURL)
}

// ClientPhoto is a progress photo attached to a client.
type ClientPhoto struct {
	SyncMeta
	ClientID string `json:"client_id"`
	Caption  string `json:"caption,omitempty"`
	Pose     string `json:"pose,omitempty"` // front, side, back
	TakenAt  int64  `json:"taken_at"`
	URL      string `json:"url,omitempty"`
}

// Collection returns the collection name for ClientPhoto.
func (ClientPhoto) Collection() string {
	return CollectionClientPhotos
}

// ClientPhotoPatch holds the mutable fields of ClientPhoto.
type ClientPhotoPatch struct {
	Caption *string `json:"caption,omitempty"`
	Pose    *string `json:"pose,omitempty"`
	TakenAt *int64  `json:"taken_at,omitempty"`
	URL     *string `json:"url,omitempty"`
}

// Apply merges the patch into p.
func (p ClientPhotoPatch) Apply(ph *ClientPhoto) {
	set(&ph.Caption, p.Caption)
	set(&ph.Pose, p.Pose)
	set(&ph.TakenAt, p.TakenAt)
	set(&ph.URL, p.URL)
}
