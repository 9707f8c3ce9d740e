package session

// Phase is what the session is doing right now.
type Phase int

const (
	Idle Phase = iota
	EmbeddingImage
	GeneratingResponse
	ReloadingModel
)

var phaseNames = [...]string{"idle", "embedding_image", "generating_response", "reloading_model"}

func (p Phase) String() string {
	if int(p) < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Speaker identifies who produced a message.
type Speaker int

const (
	User Speaker = iota
	Assistant
)

func (s Speaker) String() string {
	if s == Assistant {
		return "assistant"
	}
	return "user"
}
