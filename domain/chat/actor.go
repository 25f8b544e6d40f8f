package chat

// Actor is the uniform capability set returned by the identity collaborator.
type Actor struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsModerator bool   `json:"isModerator"`
}
