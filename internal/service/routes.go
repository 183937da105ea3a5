package service

import (
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// Route says where the result of an action goes next. An empty Next sends
// the reply back to the message's sender. ToOrigin prefers the payload's
// reply_to participant over Next.
type Route struct {
	Next       string
	NextAction models.Action
	ResultKey  string
	ToOrigin   bool
}

// RoutingTable maps each action a service accepts onto its route.
type RoutingTable map[models.Action]Route

// DefaultRoutes is the three-stage story pipeline.
func DefaultRoutes() RoutingTable {
	return RoutingTable{
		models.ActionCreateStory: {
			Next:       models.ParticipantIllustrator,
			NextAction: models.ActionGenerateIllustrations,
			ResultKey:  models.KeyStoryData,
		},
		models.ActionGenerateIllustrations: {
			Next:       models.ParticipantPublisher,
			NextAction: models.ActionCreatePublication,
			ResultKey:  models.KeyIllustrations,
		},
		models.ActionCreatePublication: {
			Next:       models.ParticipantOrchestrator,
			NextAction: models.ActionComplete,
			ResultKey:  models.KeyResult,
			ToOrigin:   true,
		},
		models.ActionDescribeScene: {
			NextAction: models.ActionSceneDescription,
			ResultKey:  models.KeyResult,
		},
	}
}

// Lookup returns the route for the action tagged on msg.
func (rt RoutingTable) Lookup(msg *models.Message) (models.Action, Route, bool) {
	action, ok := msg.Action()
	if !ok {
		return "", Route{}, false
	}
	route, ok := rt[action]
	return action, route, ok
}

// receiver picks the participant that gets the stage result for msg.
func (r Route) receiver(msg *models.Message) string {
	if r.ToOrigin {
		if origin := msg.Payload.String(models.KeyReplyTo); origin != "" {
			return origin
		}
	}
	if r.Next == "" {
		return msg.Sender
	}
	return r.Next
}

// errorReceiver is where a failure for msg is reported: the participant
// that started the conversation, or the sender when none is recorded.
func errorReceiver(msg *models.Message) string {
	if origin := msg.Payload.String(models.KeyReplyTo); origin != "" {
		return origin
	}
	return msg.Sender
}

// forward builds the payload for the next stage: the incoming payload
// without its action, plus the stage result and the next action. reply_to
// rides along untouched.
func forward(in models.Payload, route Route, result models.Payload) models.Payload {
	out := in.Without(models.KeyAction, models.KeyError)
	out[models.KeyAction] = string(route.NextAction)
	out[route.ResultKey] = map[string]any(result)
	return out
}
