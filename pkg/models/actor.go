package models

// Actor is the principal behind an operation. Risky playbook steps only
// complete when Type is USER.
type Actor struct {
	Type ActorType `json:"actor_type"`
	ID   string    `json:"actor_id"`
}

// SystemActor returns the platform actor used by workers and background jobs.
func SystemActor(id string) Actor {
	return Actor{Type: ActorTypeSystem, ID: id}
}

// AgentActor returns the actor identity for a named decision agent.
func AgentActor(name string) Actor {
	return Actor{Type: ActorTypeAgent, ID: name}
}

// UserActor returns the actor identity of a human operator.
func UserActor(id string) Actor {
	return Actor{Type: ActorTypeUser, ID: id}
}
