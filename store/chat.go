package store

// ChatKind tells a user query apart from an assistant response.
type ChatKind string

const (
	ChatQuery    ChatKind = "query"
	ChatResponse ChatKind = "response"
)

// Role returns the completion provider role for the kind.
func (k ChatKind) Role() string {
	if k == ChatQuery {
		return "user"
	}
	return "assistant"
}

// ChatState tracks whether an entry has been answered yet.
type ChatState string

const (
	// ChatPending entries are placeholders waiting for the worker.
	ChatPending ChatState = "pending"
	// ChatReady entries carry their final content and cost.
	ChatReady ChatState = "ready"
	// ChatFailed entries were never answered; content stays empty and cost zero.
	ChatFailed ChatState = "failed"
)

// Thread is a single ordered conversation between one owner and the assistant.
type Thread struct {
	ID        string
	OwnerID   string
	Title     string
	Closed    bool
	IsDefault bool
	CreatedTs int64
	UpdatedTs int64

	// Computed by the driver from the thread's chats, never stored.
	ChatCount int
	Cost      int
}

// Chat is one turn (query or response) of a thread. Chats form a singly
// linked chain through PreviousID; Order is unique per thread.
type Chat struct {
	ID         string
	ThreadID   string
	PreviousID string // empty for the chain root
	Kind       ChatKind
	State      ChatState
	Content    string
	Cost       int
	Order      int
	SentTs     int64
}

// Settled reports whether the worker is done with the chat.
func (c *Chat) Settled() bool {
	return c.State != ChatPending
}

// FindThread filters for ListThreads.
type FindThread struct {
	ID        *string
	OwnerID   *string
	Closed    *bool
	IsDefault *bool
}

// UpdateThread carries fields accepted by UpdateThread.
type UpdateThread struct {
	ID     string
	Title  *string
	Closed *bool
}

// AppendChat is the payload for AppendChat. A nil PreviousID chains the new
// entry after the thread's current head; an empty one starts a new root.
type AppendChat struct {
	ThreadID   string
	Content    string
	Kind       ChatKind
	State      ChatState
	Cost       int
	PreviousID *string
}

// FindChat filters for ListChats.
type FindChat struct {
	ID       *string
	ThreadID *string
	Kind     *ChatKind
	State    *ChatState
}

// SettleChat fills in a pending chat once.
type SettleChat struct {
	ID      string
	Content string
	Cost    int
	State   ChatState
	SentTs  int64
}

// DeleteChat removes the chats of a thread starting at FromOrder, or all of
// them when FromOrder is nil.
type DeleteChat struct {
	ThreadID  string
	FromOrder *int
}
