package store

// Owner is the identity a thread belongs to. It is supplied by the
// authentication layer and only ever read here.
type Owner struct {
	ID          string
	DisplayName string
	// MaxChatCost is the token budget an owner may spend per thread.
	MaxChatCost int
}
