package models

// Action is the closed set of operations a message can request.
type Action string

const (
	ActionCreateStory           Action = "create_story"
	ActionGenerateIllustrations Action = "generate_illustrations"
	ActionCreatePublication     Action = "create_publication"
	ActionDescribeScene         Action = "describe_scene"
	ActionSceneDescription      Action = "scene_description"
	ActionComplete              Action = "complete"
	ActionError                 Action = "error"
)

var knownActions = map[Action]struct{}{
	ActionCreateStory:           {},
	ActionGenerateIllustrations: {},
	ActionCreatePublication:     {},
	ActionDescribeScene:         {},
	ActionSceneDescription:      {},
	ActionComplete:              {},
	ActionError:                 {},
}

// ParseAction maps a raw payload tag onto a known Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	if _, ok := knownActions[a]; !ok {
		return "", false
	}
	return a, true
}

// Participant names used by the default pipeline.
const (
	ParticipantOrchestrator = "Orchestrator"
	ParticipantAuthor       = "AuthorService"
	ParticipantIllustrator  = "IllustratorService"
	ParticipantPublisher    = "PublisherService"
)

// Payload keys shared between stages.
const (
	KeyAction        = "action"
	KeyError         = "error"
	KeyStatus        = "status"
	KeyStoryData     = "story_data"
	KeyIllustrations = "illustrations"
	KeyResult        = "result"
	// KeyReplyTo names the participant that started the conversation. It is
	// carried through every stage so failures and completions find their way
	// back.
	KeyReplyTo = "reply_to"
)
